package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"pio7/internal/jsonb"
	"pio7/internal/logging"
	"pio7/internal/queue"
)

// Sink delivers an entry somewhere durable.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// RepositorySink writes entries straight to the repository.
type RepositorySink struct {
	Repo Repository
}

func (s RepositorySink) Write(ctx context.Context, e Entry) error {
	return s.Repo.Insert(ctx, e)
}

// MessageType tags queued audit entries.
const MessageType = "audit.entry"

// QueueSink publishes entries for the worker to persist.
type QueueSink struct {
	Queue queue.Queue
}

func (s QueueSink) Write(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode audit entry")
	}
	return s.Queue.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// DecodeMessage turns a queued message back into an entry.
func DecodeMessage(msg queue.Message) (Entry, error) {
	if msg.Type != MessageType {
		return Entry{}, errors.Errorf("unexpected message type %q", msg.Type)
	}
	var e Entry
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return Entry{}, errors.Wrap(err, "decode audit entry")
	}
	if e.ID == "" || e.AdminID == "" || e.Action == "" {
		return Entry{}, errors.New("incomplete audit entry")
	}
	return e, nil
}

// DefaultWriteTimeout bounds a single Record.
const DefaultWriteTimeout = 2 * time.Second

// Recorder appends audit entries.
type Recorder struct {
	sink    Sink
	log     logging.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder builds a recorder delivering to sink.
func NewRecorder(sink Sink, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Nop()
	}
	return &Recorder{sink: sink, log: log, timeout: DefaultWriteTimeout, now: time.Now}
}

// Record appends an entry. entityID and metadata are optional. Failures are
// logged and counted, never returned.
func (r *Recorder) Record(ctx context.Context, adminID string, action Action, entityType, entityID string, metadata interface{}, rc RequestContext) {
	meta, err := jsonb.From(metadata)
	if err != nil {
		r.log.Warn("audit metadata dropped", "action", action, "err", err)
		meta = nil
	}
	e := Entry{
		ID:         uuid.NewString(),
		AdminID:    adminID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   meta,
		IPAddress:  rc.IPAddress,
		UserAgent:  truncate(rc.UserAgent, maxUserAgent),
		CreatedAt:  r.now().UTC(),
	}

	// The entry outlives a cancelled request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.sink.Write(ctx, e); err != nil {
		writes.WithLabelValues("failed").Inc()
		r.log.Error("audit write failed",
			"action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID, "admin_id", e.AdminID, "err", err)
		return
	}
	writes.WithLabelValues("ok").Inc()
	r.log.Debug("audit write succeeded", "action", e.Action, "id", e.ID)
}
