package documents

import (
	"context"

	"go.uber.org/zap"

	"ragbackend/internal/apperr"
	"ragbackend/internal/logger"
	"ragbackend/internal/notify"
	"ragbackend/internal/storage"
)

type ObjectStore interface {
	Store(ctx context.Context, obj storage.Object, maxSizeBytes int64) (storage.UploadRecord, error)
}

type Registry interface {
	Enabled() bool
	Put(ctx context.Context, owner string, rec storage.UploadRecord) error
	List(ctx context.Context, owner string) ([]storage.UploadRecord, error)
}

type IngestionStarter interface {
	Enabled() bool
	Start(ctx context.Context, reason string) (string, error)
}

type UploadNotifier interface {
	Enabled() bool
	DocumentUploaded(ctx context.Context, ev notify.UploadEvent) (string, error)
}

// Service stores uploads and fans out the optional follow-ups. Only the store
// result decides success; follow-up failures are logged.
type Service struct {
	store    ObjectStore
	bucket   string
	maxBytes int64

	registry Registry
	ingest   IngestionStarter
	notifier UploadNotifier
}

type Option func(*Service)

func WithRegistry(r Registry) Option { return func(s *Service) { s.registry = r } }

func WithIngestion(i IngestionStarter) Option { return func(s *Service) { s.ingest = i } }

func WithNotifier(n UploadNotifier) Option { return func(s *Service) { s.notifier = n } }

func NewService(store ObjectStore, bucket string, maxBytes int64, opts ...Option) *Service {
	s := &Service{store: store, bucket: bucket, maxBytes: maxBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

type UploadResult struct {
	Record         storage.UploadRecord
	IngestionJobID string
}

func (s *Service) MaxBytes() int64 { return s.maxBytes }

func (s *Service) Upload(ctx context.Context, owner string, obj storage.Object) (*UploadResult, error) {
	log := logger.From(ctx)

	rec, err := s.store.Store(ctx, obj, s.maxBytes)
	if err != nil {
		return nil, err
	}
	log.Info("document stored", zap.String("key", rec.Key), zap.Int64("size_bytes", rec.SizeBytes))

	res := &UploadResult{Record: rec}

	// Anonymous uploads have no one to list them for.
	switch {
	case s.registry == nil || !s.registry.Enabled():
	case owner == "":
		log.Debug("anonymous upload not registered", zap.String("key", rec.Key))
	default:
		if err := s.registry.Put(ctx, owner, rec); err != nil {
			log.Warn("registry write failed", zap.String("key", rec.Key), zap.Error(err))
		}
	}

	if s.ingest != nil && s.ingest.Enabled() {
		jobID, err := s.ingest.Start(ctx, "upload "+rec.Key)
		if err != nil {
			log.Warn("ingestion job not started", zap.String("key", rec.Key), zap.Error(err))
		} else {
			res.IngestionJobID = jobID
			log.Info("ingestion job started", zap.String("ingestion_job_id", jobID))
		}
	}

	if s.notifier != nil && s.notifier.Enabled() {
		_, err := s.notifier.DocumentUploaded(ctx, notify.UploadEvent{
			Bucket:      s.bucket,
			Key:         rec.Key,
			Filename:    rec.Filename,
			ContentType: rec.ContentType,
			SizeBytes:   rec.SizeBytes,
			UserSub:     owner,
			UploadedAt:  rec.UploadedAt,
		})
		if err != nil {
			log.Warn("upload notification failed", zap.String("key", rec.Key), zap.Error(err))
		}
	}

	return res, nil
}

// List returns owner's uploads newest first. It fails when no registry is
// configured or owner is empty.
func (s *Service) List(ctx context.Context, owner string) ([]storage.UploadRecord, error) {
	if owner == "" {
		return nil, apperr.New(apperr.InvalidInput, apperr.StageValidation, "owner is required", nil)
	}
	if s.registry == nil || !s.registry.Enabled() {
		return nil, apperr.New(apperr.NotConfigured, apperr.StageConfig, "DOCUMENTS_TABLE is not set", nil)
	}
	recs, err := s.registry.List(ctx, owner)
	if err != nil {
		return nil, apperr.New(apperr.StoreFailed, apperr.StageStore, "list documents", err)
	}
	return recs, nil
}
