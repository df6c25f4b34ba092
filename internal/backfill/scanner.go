// Package backfill reconciles notices whose child fetches were lost to
// transient failures in earlier runs.
package backfill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/telemetry"
)

// DefaultBatchSize is how many notice references are scanned per page.
const DefaultBatchSize = 500

// Config controls one reconciliation pass.
type Config struct {
	BatchSize int
}

// Scanner walks the notice table in batches and refetches items and files
// for any notice with a zero child count. A legitimately childless notice
// is refetched every pass; the insert-if-absent store keeps that harmless.
type Scanner struct {
	cfg    Config
	client catalog.Client
	store  catalog.Store
	logger *zap.Logger
}

func NewScanner(cfg Config, client catalog.Client, store catalog.Store, logger *zap.Logger) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{cfg: cfg, client: client, store: store, logger: logger}
}

// Run scans the full notice table once. Fetch failures for a single notice
// are logged and skipped; only store paging errors and cancellation abort
// the pass.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("backfill pass starting", zap.Int("batch_size", s.cfg.BatchSize))
	scanned, repaired := 0, 0

	for offset := 0; ; offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backfill canceled: %w", err)
		}
		refs, err := s.store.ListNoticeRefs(ctx, offset, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list notice refs at offset %d: %w", offset, err)
		}
		if len(refs) == 0 {
			break
		}
		scanned += len(refs)
		for _, ref := range refs {
			if s.repair(ctx, ref) {
				repaired++
			}
		}
	}

	s.logger.Info("backfill pass finished",
		zap.Int("scanned", scanned),
		zap.Int("repaired", repaired),
	)
	return nil
}

func (s *Scanner) repair(ctx context.Context, ref catalog.NoticeRef) bool {
	log := s.logger.With(zap.String("control_number", ref.ControlNumber))
	if ref.OrgID == "" || ref.Year == 0 || ref.SequenceNumber == 0 {
		return false
	}
	repaired := false

	nItems, err := s.store.CountItems(ctx, ref.ControlNumber)
	if err != nil {
		log.Error("count items failed", zap.Error(err))
		return false
	}
	if nItems == 0 {
		if s.repairItems(ctx, ref, log) {
			repaired = true
		}
	}

	nFiles, err := s.store.CountAttachments(ctx, ref.ControlNumber)
	if err != nil {
		log.Error("count attachments failed", zap.Error(err))
		return repaired
	}
	if nFiles == 0 {
		if s.repairFiles(ctx, ref, log) {
			repaired = true
		}
	}
	return repaired
}

func (s *Scanner) repairItems(ctx context.Context, ref catalog.NoticeRef, log *zap.Logger) bool {
	items, err := s.client.FetchItems(ctx, ref.OrgID, ref.Year, ref.SequenceNumber)
	if err != nil {
		telemetry.IncChildFetchFailure("items")
		log.Warn("backfill items fetch failed", zap.Error(err))
		return false
	}
	if len(items) == 0 {
		return false
	}
	stored := 0
	for _, it := range items {
		it.ControlNumber = ref.ControlNumber
		inserted, err := s.store.UpsertItem(ctx, it)
		if err != nil {
			log.Error("backfill insert item failed", zap.Int("number", it.Number), zap.Error(err))
			continue
		}
		if inserted {
			stored++
		}
	}
	if stored > 0 {
		telemetry.IncBackfillRepair("items")
		log.Info("backfilled items", zap.Int("count", stored))
	}
	return stored > 0
}

func (s *Scanner) repairFiles(ctx context.Context, ref catalog.NoticeRef, log *zap.Logger) bool {
	files, err := s.client.FetchFiles(ctx, ref.OrgID, ref.Year, ref.SequenceNumber)
	if err != nil {
		telemetry.IncChildFetchFailure("files")
		log.Warn("backfill files fetch failed", zap.Error(err))
		return false
	}
	if len(files) == 0 {
		return false
	}
	stored := 0
	for _, f := range files {
		f.ControlNumber = ref.ControlNumber
		inserted, err := s.store.UpsertAttachment(ctx, f)
		if err != nil {
			log.Error("backfill insert attachment failed", zap.Int("sequence", f.Sequence), zap.Error(err))
			continue
		}
		if inserted {
			stored++
		}
	}
	if stored > 0 {
		telemetry.IncBackfillRepair("files")
		log.Info("backfilled attachments", zap.Int("count", stored))
	}
	return stored > 0
}
