package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/imagegen"
	"github.com/digkill/photoremix/internal/metrics"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/repository"
	"github.com/digkill/photoremix/internal/storage"
)

const maxErrorText = 1000

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

var errStale = errors.New("generation did not finish in time")

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	db        *database.DB
	assets    *repository.AssetRepository
	ledger    *Ledger
	settings  *SettingsService
	store     AssetStore
	generator imagegen.Transformer
	queue     Enqueuer
	notifier  Notifier
	now       func() time.Time
}

type SubmitRequest struct {
	Handle string
	Width  int
	Height int
}

type RecoveryStats struct {
	Requeued int
	Failed   int
}

func NewGenerationService(cfg config.Config, log *slog.Logger, db *database.DB, assets *repository.AssetRepository, ledger *Ledger, settings *SettingsService, store AssetStore, generator imagegen.Transformer, queue Enqueuer) *GenerationService {
	return &GenerationService{
		cfg:       cfg,
		log:       log,
		db:        db,
		assets:    assets,
		ledger:    ledger,
		settings:  settings,
		store:     store,
		generator: generator,
		queue:     queue,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier registers the front end told about finished generations.
func (s *GenerationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Submit reserves one credit and records a pending original in a single
// transaction, then schedules the background step. Validation uses what the
// store reports about the upload, never client supplied values.
func (s *GenerationService) Submit(ctx context.Context, identity string, req SubmitRequest) (*models.Asset, error) {
	asset, err := s.submit(ctx, identity, req)
	switch {
	case err == nil:
		metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	case errors.Is(err, ErrInsufficientCredits):
		metrics.SubmissionsTotal.WithLabelValues("insufficient_credits").Inc()
	case isValidation(err):
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
	default:
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
	}
	return asset, err
}

func (s *GenerationService) submit(ctx context.Context, identity string, req SubmitRequest) (*models.Asset, error) {
	if strings.TrimSpace(req.Handle) == "" {
		return nil, invalid("handle", "is required")
	}
	if req.Width < 0 || req.Height < 0 {
		return nil, invalid("dimensions", "must not be negative")
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.ledger.GetOrCreateAccount(ctx, settings, identity)
	if err != nil {
		return nil, err
	}
	if acc.Credits < 1 {
		return nil, ErrInsufficientCredits
	}

	meta, err := s.store.Metadata(ctx, req.Handle)
	if err != nil {
		return nil, fmt.Errorf("inspect upload: %w", err)
	}
	if meta == nil {
		return nil, invalid("handle", "upload not found")
	}
	contentType := normalizeContentType(meta.ContentType)
	if !allowedContentTypes[contentType] {
		return nil, invalid("content_type", fmt.Sprintf("%q is not an accepted image type", meta.ContentType))
	}
	if meta.Size <= 0 {
		return nil, invalid("size", "upload is empty")
	}
	if meta.Size > s.cfg.MaxUploadBytes {
		return nil, invalid("size", fmt.Sprintf("upload is %d bytes, limit is %d", meta.Size, s.cfg.MaxUploadBytes))
	}

	asset := &models.Asset{
		ID:               uuid.NewString(),
		Owner:            identity,
		StorageHandle:    req.Handle,
		ContentType:      contentType,
		Width:            req.Width,
		Height:           req.Height,
		SizeBytes:        meta.Size,
		GenerationStatus: models.GenerationPending,
		CreditHeld:       true,
		SharingEnabled:   true,
	}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.ledger.DebitInTx(ctx, tx, identity, 1); err != nil {
			return err
		}
		return s.assets.WithTx(tx).Insert(ctx, asset)
	})
	if err != nil {
		return nil, err
	}
	metrics.CreditsTotal.WithLabelValues("reserved").Inc()
	s.log.Info("transformation submitted", "asset_id", asset.ID, "identity", identity, "size", meta.Size)

	if err := s.queue.Enqueue(ctx, asset.ID); err != nil {
		s.log.Error("enqueue generation; left pending for recovery", "asset_id", asset.ID, "err", err)
	}
	return asset, nil
}

// Execute is the background step for one original. Duplicate deliveries are
// no-ops because only one of them can move the row out of pending.
func (s *GenerationService) Execute(ctx context.Context, id string) {
	started, err := s.assets.Transition(ctx, id, models.GenerationPending, models.GenerationProcessing)
	if err != nil {
		s.log.Error("start generation", "asset_id", id, "err", err)
		return
	}
	if !started {
		s.log.Debug("generation not pending; skipping delivery", "asset_id", id)
		metrics.GenerationsTotal.WithLabelValues("skipped").Inc()
		return
	}

	original, err := s.assets.Get(ctx, id)
	if err != nil || original == nil {
		if err == nil {
			err = ErrNotFound
		}
		s.fail(ctx, id, fmt.Errorf("load original: %w", err))
		return
	}

	start := time.Now()
	result, err := s.generate(ctx, original)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Warn("generation interrupted; left processing for recovery", "asset_id", id, "err", err)
			return
		}
		metrics.GenerationDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		s.fail(ctx, id, err)
		return
	}
	metrics.GenerationDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())

	generated, err := s.complete(ctx, original, result)
	if err != nil {
		s.fail(ctx, id, err)
		return
	}

	metrics.GenerationsTotal.WithLabelValues("completed").Inc()
	metrics.CreditsTotal.WithLabelValues("consumed").Inc()
	s.log.Info("generation completed", "asset_id", id, "generated_id", generated.ID, "duration", time.Since(start).String())

	if s.notifier != nil {
		if fresh, err := s.assets.Get(ctx, id); err == nil && fresh != nil {
			original = fresh
		}
		s.notifier.GenerationCompleted(ctx, original, generated)
	}
}

func (s *GenerationService) generate(ctx context.Context, original *models.Asset) (*imagegen.Result, error) {
	url, err := s.store.ReadURL(ctx, original.StorageHandle)
	if err != nil {
		return nil, fmt.Errorf("resolve read url: %w", err)
	}
	if url == "" {
		return nil, ErrAssetMissing
	}
	data, err := s.store.Get(ctx, original.StorageHandle)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrAssetMissing, err)
		}
		return nil, fmt.Errorf("fetch original: %w", err)
	}

	result, err := s.generator.Transform(ctx, imagegen.Request{
		Instruction: s.cfg.TransformInstruction,
		Data:        data,
		MimeType:    original.ContentType,
		SourceURL:   url,
	})
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	if result == nil || len(result.Data) == 0 {
		return nil, fmt.Errorf("transform: empty result")
	}
	if result.MimeType == "" {
		result.MimeType = "image/png"
	}
	return result, nil
}

// complete stores the output and, in one transaction, records the generated
// asset and marks the original completed.
func (s *GenerationService) complete(ctx context.Context, original *models.Asset, result *imagegen.Result) (*models.Asset, error) {
	handle, err := s.store.Put(ctx, result.Data, result.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	generated := &models.Asset{
		ID:             uuid.NewString(),
		Owner:          original.Owner,
		StorageHandle:  handle,
		ContentType:    result.MimeType,
		SizeBytes:      int64(len(result.Data)),
		IsGenerated:    true,
		OriginalID:     original.ID,
		SharingEnabled: true,
	}
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		assets := s.assets.WithTx(tx)
		if err := assets.Insert(ctx, generated); err != nil {
			return err
		}
		ok, err := assets.MarkCompleted(ctx, original.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("original %s left processing before completion", original.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	return generated, nil
}

// fail records cause on a processing original and refunds one credit for
// this failure. Transient causes are handed to AutoRetry; the owner is only
// told about failures that were not rescheduled.
func (s *GenerationService) fail(ctx context.Context, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	reason := truncateText(cause.Error(), maxErrorText)

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		s.log.Error("load billing settings for failure; using defaults", "asset_id", id, "err", err)
		settings = DefaultSettings(s.cfg)
	}

	var (
		transitioned bool
		refunded     bool
		original     *models.Asset
	)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		assets := s.assets.WithTx(tx)
		var err error
		transitioned, err = assets.MarkFailed(ctx, id, models.GenerationProcessing, reason)
		if err != nil || !transitioned {
			return err
		}
		original, err = assets.Get(ctx, id)
		if err != nil {
			return err
		}
		if original != nil {
			refunded, err = s.ledger.RefundInTx(ctx, tx, settings, original.Owner, 1)
		}
		return err
	})
	if err != nil {
		s.log.Error("could not record generation failure; asset stuck in processing",
			"critical", true, "asset_id", id, "cause", cause.Error(), "err", err)
		return
	}
	if !transitioned {
		s.log.Warn("original left processing before failure was recorded", "asset_id", id, "cause", cause.Error())
		return
	}

	metrics.GenerationsTotal.WithLabelValues("failed").Inc()
	if refunded {
		metrics.CreditsTotal.WithLabelValues("refunded").Inc()
	}
	s.log.Warn("generation failed", "asset_id", id, "err", cause, "refunded", refunded)

	var requeued bool
	if retryable(cause) {
		requeued, err = s.AutoRetry(ctx, id)
		if err != nil {
			s.log.Error("schedule auto retry", "asset_id", id, "err", err)
		}
	}
	if !requeued && s.notifier != nil && original != nil {
		s.notifier.GenerationFailed(ctx, original)
	}
}

// truncateText cuts s to at most limit bytes of valid UTF-8 without
// splitting a character.
func truncateText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func retryable(err error) bool {
	return !errors.Is(err, imagegen.ErrConfiguration) && !errors.Is(err, ErrAssetMissing)
}

// AutoRetry spends one automatic attempt on a failed original. The attempt
// counter is compared and bumped atomically, so duplicate failure signals
// cannot schedule twice; once the counter reaches MaxAutoAttempts the
// original stays failed.
func (s *GenerationService) AutoRetry(ctx context.Context, id string) (bool, error) {
	var requeued bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		assets := s.assets.WithTx(tx)
		a, err := assets.Get(ctx, id)
		if err != nil {
			return err
		}
		if a == nil || a.IsGenerated {
			return ErrNotFound
		}
		if a.GenerationStatus != models.GenerationFailed {
			return nil
		}
		requeue := a.GenerationAttempts+1 < models.MaxAutoAttempts
		ok, err := assets.RecordAutoAttempt(ctx, id, a.GenerationAttempts, requeue)
		if err != nil {
			return err
		}
		requeued = ok && requeue
		return nil
	})
	if err != nil {
		return false, err
	}
	if !requeued {
		metrics.RetriesTotal.WithLabelValues("auto", "exhausted").Inc()
		return false, nil
	}

	metrics.RetriesTotal.WithLabelValues("auto", "scheduled").Inc()
	s.log.Info("auto retry scheduled", "asset_id", id)
	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.log.Error("enqueue auto retry; left pending for recovery", "asset_id", id, "err", err)
	}
	return true, nil
}

// Retry is the owner's manual retry. It is not bounded by the automatic
// attempt counter and does not reserve a new credit.
func (s *GenerationService) Retry(ctx context.Context, identity, id string) (*models.Asset, error) {
	return s.retry(ctx, id, func(a *models.Asset) bool { return a.Owner == identity })
}

// RetryAsAdmin is Retry without the ownership check.
func (s *GenerationService) RetryAsAdmin(ctx context.Context, id string) (*models.Asset, error) {
	return s.retry(ctx, id, func(*models.Asset) bool { return true })
}

func (s *GenerationService) retry(ctx context.Context, id string, allowed func(*models.Asset) bool) (*models.Asset, error) {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || !allowed(a) {
		return nil, ErrNotFound
	}
	if a.IsGenerated || a.GenerationStatus != models.GenerationFailed {
		return nil, ErrNotRetryable
	}
	meta, err := s.store.Metadata(ctx, a.StorageHandle)
	if err != nil {
		return nil, fmt.Errorf("inspect original: %w", err)
	}
	if meta == nil {
		return nil, ErrAssetMissing
	}

	ok, err := s.assets.Transition(ctx, id, models.GenerationFailed, models.GenerationPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRetryable
	}
	metrics.RetriesTotal.WithLabelValues("manual", "scheduled").Inc()
	s.log.Info("manual retry scheduled", "asset_id", id)

	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.log.Error("enqueue manual retry; left pending for recovery", "asset_id", id, "err", err)
	}
	a.GenerationStatus = models.GenerationPending
	a.GenerationError = ""
	return a, nil
}

// RecoverPending re-enqueues pending originals and fails originals that have
// been processing longer than the stuck threshold, so restarts never strand jobs.
func (s *GenerationService) RecoverPending(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats

	pending, err := s.assets.ListByStatus(ctx, models.GenerationPending)
	if err != nil {
		return stats, err
	}
	for _, a := range pending {
		if err := s.queue.Enqueue(ctx, a.ID); err != nil {
			s.log.Error("re-enqueue pending original", "asset_id", a.ID, "err", err)
			continue
		}
		stats.Requeued++
	}

	stale, err := s.assets.ListStaleProcessing(ctx, s.now().Add(-s.cfg.StuckAfter))
	if err != nil {
		return stats, err
	}
	for _, a := range stale {
		s.fail(ctx, a.ID, fmt.Errorf("%w: processing since %s", errStale, a.UpdatedAt.Format(time.RFC3339)))
		stats.Failed++
	}

	if stats.Requeued > 0 || stats.Failed > 0 {
		s.log.Info("recovered generations", "requeued", stats.Requeued, "failed_stale", stats.Failed)
	}
	return stats, nil
}

// RunRecovery calls RecoverPending now and then every interval until ctx ends.
func (s *GenerationService) RunRecovery(ctx context.Context, interval time.Duration) {
	if _, err := s.RecoverPending(ctx); err != nil {
		s.log.Error("recover generations", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RecoverPending(ctx); err != nil {
				s.log.Error("recover generations", "err", err)
			}
		}
	}
}

// Get returns the owner's view of an original, or of the original behind a generated id.
func (s *GenerationService) Get(ctx context.Context, identity, id string) (*AssetView, error) {
	a, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Owner != identity {
		return nil, ErrNotFound
	}
	if a.IsGenerated {
		a, err = s.assets.Get(ctx, a.OriginalID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, ErrNotFound
		}
	}
	return s.View(ctx, a)
}

// View builds the owner view of an original, resolving read URLs now.
func (s *GenerationService) View(ctx context.Context, original *models.Asset) (*AssetView, error) {
	generated, err := s.assets.GetGeneratedFor(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	return newAssetView(ctx, s.store, s.log, original, generated), nil
}

func (s *GenerationService) ListForOwner(ctx context.Context, identity string, limit, offset int) ([]AssetView, error) {
	limit, offset = clampPage(limit, offset)
	originals, err := s.assets.ListOriginalsByOwner(ctx, identity, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]AssetView, 0, len(originals))
	for i := range originals {
		v, err := s.View(ctx, &originals[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// Upload stores raw bytes for a later Submit and returns the handle.
func (s *GenerationService) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	contentType = normalizeContentType(contentType)
	if !allowedContentTypes[contentType] {
		return "", invalid("content_type", fmt.Sprintf("%q is not an accepted image type", contentType))
	}
	if len(data) == 0 {
		return "", invalid("size", "upload is empty")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return "", invalid("size", fmt.Sprintf("upload is %d bytes, limit is %d", len(data), s.cfg.MaxUploadBytes))
	}
	return s.store.Put(ctx, data, contentType)
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func clampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// StatusCounts reports how many originals sit in each generation status.
func (s *GenerationService) StatusCounts(ctx context.Context) (map[models.GenerationStatus]int, error) {
	return s.assets.CountByStatus(ctx)
}
