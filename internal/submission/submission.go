// Package submission stores the files students hand in for a session task.
// Uploads are checked against a declared type, its size cap and its magic
// number before they reach blob storage.
package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"pio7/internal/auth"
	"pio7/internal/cloudinary"
	"pio7/internal/course"
	"pio7/internal/logging"
	"pio7/internal/ratelimit"
)

var (
	ErrUnsupportedType   = errors.New("submission: file type not allowed")
	ErrTooLarge          = errors.New("submission: file too large")
	ErrSignatureMismatch = errors.New("submission: file content does not match its type")
	ErrEmptyFile         = errors.New("submission: file is empty")
	ErrMissingTaskType   = errors.New("submission: task type is required")
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ClampLimit maps a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// Submission is one stored file.
type Submission struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	SessionID string    `db:"session_id" json:"sessionId"`
	TaskType  string    `db:"task_type" json:"taskType"`
	FileURL   string    `db:"file_url" json:"fileUrl"`
	FileName  string    `db:"file_name" json:"fileName"`
	MimeType  string    `db:"mime_type" json:"mimeType"`
	Size      int64     `db:"size_bytes" json:"size"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Repository persists submissions. Lists are newest first.
type Repository interface {
	Insert(ctx context.Context, s Submission) (Submission, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Submission, error)
	List(ctx context.Context, limit int) ([]Submission, error)
}

// Uploader puts a file in blob storage.
type Uploader interface {
	Upload(ctx context.Context, file io.Reader, filename string) (*cloudinary.UploadResult, error)
}

// Limiter gates uploads per user.
type Limiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Decision
}

// Service validates and stores submissions.
type Service struct {
	repo     Repository
	sessions course.Repository
	uploader Uploader
	limiter  Limiter
	log      logging.Logger
	now      func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, sessions course.Repository, uploader Uploader, limiter Limiter, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{repo: repo, sessions: sessions, uploader: uploader, limiter: limiter, log: log, now: time.Now}
}

// Upload is a file handed in by a student.
type Upload struct {
	SessionNumber int
	TaskType      string
	FileName      string
	MimeType      string
	Size          int64
	Body          io.Reader
}

// Submit checks the upload, stores the file and records it.
func (s *Service) Submit(ctx context.Context, id auth.Identity, up Upload) (Submission, error) {
	if err := id.RequireUser(); err != nil {
		return Submission{}, err
	}
	if err := s.limiter.Check(ctx, "submission:"+id.UserID, ratelimit.Submission).Err(); err != nil {
		return Submission{}, err
	}
	taskType := strings.TrimSpace(up.TaskType)
	if taskType == "" {
		return Submission{}, ErrMissingTaskType
	}
	ft, ok := LookupMIME(up.MimeType)
	if !ok {
		return Submission{}, ErrUnsupportedType
	}
	if up.Size <= 0 {
		return Submission{}, ErrEmptyFile
	}
	if up.Size > ft.MaxSize {
		return Submission{}, ErrTooLarge
	}
	sess, err := s.sessions.GetByNumber(ctx, up.SessionNumber)
	if err != nil {
		return Submission{}, err
	}

	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(up.Body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Submission{}, err
	}
	header = header[:n]
	if !ft.Matches(header) {
		s.log.Warn("submission rejected", "user_id", id.UserID, "mime", up.MimeType, "detected", mimetype.Detect(header).String())
		return Submission{}, ErrSignatureMismatch
	}

	body := io.MultiReader(bytes.NewReader(header), io.LimitReader(up.Body, ft.MaxSize-int64(n)))
	stored := uuid.NewString() + ft.Extension
	res, err := s.uploader.Upload(ctx, body, stored)
	if err != nil {
		s.log.Error("submission upload failed", "user_id", id.UserID, "err", err)
		return Submission{}, err
	}

	sub, err := s.repo.Insert(ctx, Submission{
		UserID:    id.UserID,
		SessionID: sess.ID,
		TaskType:  taskType,
		FileURL:   res.SecureURL,
		FileName:  up.FileName,
		MimeType:  ft.MIME[0],
		Size:      up.Size,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Submission{}, err
	}
	s.log.Info("submission stored", "user_id", id.UserID, "session", sess.Number, "type", ft.Name)
	return sub, nil
}

// Mine lists the caller's submissions.
func (s *Service) Mine(ctx context.Context, id auth.Identity, limit int) ([]Submission, error) {
	if err := id.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, id.UserID, ClampLimit(limit))
}

// All lists every submission for admins.
func (s *Service) All(ctx context.Context, id auth.Identity, limit int) ([]Submission, error) {
	if err := id.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ClampLimit(limit))
}
