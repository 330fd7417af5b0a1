package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pio7/internal/logging"
	"pio7/internal/queue"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "X-Real-IP": "10.0.0.2"}, want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4", "CF-Connecting-IP": "192.0.2.9"}, want: "198.51.100.4"},
		{name: "cloudflare", headers: map[string]string{"CF-Connecting-IP": "192.0.2.9"}, want: "192.0.2.9"},
		{name: "empty forwarded falls through", headers: map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "none", want: UnknownIP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h))
		})
	}
}

func TestFromRequestTruncatesUserAgent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/qr", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 5000))
	rc := FromRequest(req)
	assert.Len(t, rc.UserAgent, 1024)
	assert.Equal(t, UnknownIP, rc.IPAddress)
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 250: 250, 500: 500, 10000: 500} {
		assert.Equal(t, want, ClampLimit(in), in)
	}
}

func TestRecorderWritesEntry(t *testing.T) {
	repo := NewMemoryRepository()
	log := &logging.Memory{}
	r := NewRecorder(RepositorySink{Repo: repo}, log)

	r.Record(context.Background(), "admin-1", ActionQRCodeGenerated, "QRCode", "qr-1",
		map[string]interface{}{"sessionNumber": 4}, RequestContext{IPAddress: "203.0.113.7", UserAgent: "curl/8"})

	entries, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "admin-1", e.AdminID)
	assert.Equal(t, ActionQRCodeGenerated, e.Action)
	assert.Equal(t, "qr-1", e.EntityID)
	assert.JSONEq(t, `{"sessionNumber":4}`, string(e.Metadata))
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Empty(t, log.Find("audit write failed"))
}

func TestRecorderLogsFailure(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Fail = errors.New("connection reset")
	log := &logging.Memory{}
	r := NewRecorder(RepositorySink{Repo: repo}, log)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), "admin-1", ActionAdmin2FADisabled, "User", "admin-1", nil, RequestContext{})
	})

	failed := log.Find("audit write failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "ERROR", failed[0].Level)
	assert.Equal(t, ActionAdmin2FADisabled, failed[0].Fields["action"])
}

func TestRecorderSurvivesCancelledRequest(t *testing.T) {
	repo := NewMemoryRepository()
	r := NewRecorder(RepositorySink{Repo: repo}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, "admin-1", ActionAdmin2FAEnabled, "User", "admin-1", nil, RequestContext{})

	entries, _ := repo.List(context.Background(), 10)
	assert.Len(t, entries, 1)
}

func TestQueueSinkRoundTrip(t *testing.T) {
	q := queue.NewInMemory(1)
	r := NewRecorder(QueueSink{Queue: q}, nil)
	r.Record(context.Background(), "admin-1", ActionQRCodeGenerated, "QRCode", "qr-9", map[string]string{"code": "ABC234"}, RequestContext{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-ch
	e, err := DecodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "qr-9", e.EntityID)
	assert.JSONEq(t, `{"code":"ABC234"}`, string(e.Metadata))

	_, err = DecodeMessage(queue.Message{Type: "other", Body: msg.Body})
	assert.Error(t, err)
}

func TestMemoryRepositoryNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Insert(context.Background(), Entry{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, repo.Insert(context.Background(), Entry{ID: "a", CreatedAt: base.Add(time.Hour)}), "duplicate ids are ignored")

	got, err := repo.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestPostgresRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(sqlx.NewDb(db, "pgx"))

	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("e-1", "admin-1", "QR_CODE_GENERATED", "QRCode", "qr-1", sqlmock.AnyArg(), "203.0.113.7", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Insert(context.Background(), Entry{
		ID: "e-1", AdminID: "admin-1", Action: ActionQRCodeGenerated, EntityType: "QRCode",
		EntityID: "qr-1", IPAddress: "203.0.113.7", CreatedAt: now,
	}))

	rows := sqlmock.NewRows([]string{"id", "admin_id", "action", "entity_type", "entity_id", "metadata", "ip_address", "user_agent", "created_at"}).
		AddRow("e-1", "admin-1", "QR_CODE_GENERATED", "QRCode", "qr-1", nil, "203.0.113.7", "", now)
	mock.ExpectQuery(`FROM audit_logs\s+ORDER BY created_at DESC\s+LIMIT \$1`).WithArgs(500).WillReturnRows(rows)

	got, err := repo.List(context.Background(), 9999)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ActionQRCodeGenerated, got[0].Action)
	assert.True(t, got[0].Metadata.IsNull())
	require.NoError(t, mock.ExpectationsWereMet())
}
