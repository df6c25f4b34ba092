// Package ingest orchestrates the crawl, dedup and child-fetch loop.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/convert"
	"github.com/pncplab/harvester/internal/progress"
	"github.com/pncplab/harvester/internal/telemetry"
)

// ConversionSink receives pending conversion jobs drained from the buffer.
// The long-lived convert.Pool satisfies it.
type ConversionSink interface {
	Submit(ctx context.Context, job convert.Job) error
}

// Backfiller repairs notices missing their children after the main loop.
type Backfiller interface {
	Run(ctx context.Context) error
}

// Config controls one ingestion run.
type Config struct {
	// Pages is the operator-supplied page list; pagination bounds are not
	// auto-discovered.
	Pages []int
	// Sorts and DocumentTypes span the search space together with Pages.
	// The product intentionally overlaps; the in-run master set dedups it.
	Sorts         []string
	DocumentTypes []string
	PageSize      int
	// PageBatchSize bounds how many pages are in flight per batch.
	PageBatchSize int
	// ConversionBatchSize is the buffer threshold that triggers a drain to
	// the conversion pool.
	ConversionBatchSize int
	// ChildFetchConcurrency bounds parallel child fetches per batch. The
	// admission gate still bounds the actual network calls.
	ChildFetchConcurrency int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.PageBatchSize <= 0 {
		c.PageBatchSize = 5
	}
	if c.ConversionBatchSize <= 0 {
		c.ConversionBatchSize = 50
	}
	if c.ChildFetchConcurrency <= 0 {
		c.ChildFetchConcurrency = 5
	}
	if len(c.Sorts) == 0 {
		c.Sorts = []string{"data"}
	}
	if len(c.DocumentTypes) == 0 {
		c.DocumentTypes = []string{"edital"}
	}
	return c
}

// Coordinator drives the ingestion pipeline: batched search, dedup against
// the store, child fetches, and hand-off to conversion.
type Coordinator struct {
	cfg        Config
	client     catalog.Client
	store      catalog.Store
	sink       ConversionSink
	backfiller Backfiller
	emitter    progress.Emitter
	logger     *zap.Logger

	runID [16]byte
}

// NewCoordinator constructs a Coordinator. The backfiller and emitter may
// be nil to skip the reconciliation pass and progress reporting.
func NewCoordinator(
	cfg Config,
	client catalog.Client,
	store catalog.Store,
	sink ConversionSink,
	backfiller Backfiller,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		client:     client,
		store:      store,
		sink:       sink,
		backfiller: backfiller,
		emitter:    emitter,
		logger:     logger,
	}
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	evt.RunID = c.runID
	evt.TS = time.Now().UTC()
	c.emitter.Emit(evt)
}

// Run executes one full ingestion pass. No failure on a single page or
// record aborts the run; the only fatal errors are store snapshot failure
// and context cancellation. The run may be stopped between page batches or
// buffer drains without corrupting state: every write is idempotent.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runID = progress.UUIDToBytes(uuid.New())

	master, err := c.store.ControlNumbers(ctx)
	if err != nil {
		c.emit(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return fmt.Errorf("snapshot control numbers: %w", err)
	}
	c.emit(progress.Event{Stage: progress.StageRunStart})
	c.logger.Info("ingestion run starting",
		zap.Int("known_notices", len(master)),
		zap.Int("pages", len(c.cfg.Pages)),
		zap.Int("sorts", len(c.cfg.Sorts)),
		zap.Int("document_types", len(c.cfg.DocumentTypes)),
	)

	var pending []convert.Job
	totalNew := 0

	for start := 0; start < len(c.cfg.Pages); start += c.cfg.PageBatchSize {
		if err := ctx.Err(); err != nil {
			c.emit(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
			return fmt.Errorf("run canceled: %w", err)
		}
		end := start + c.cfg.PageBatchSize
		if end > len(c.cfg.Pages) {
			end = len(c.cfg.Pages)
		}
		batch := c.cfg.Pages[start:end]

		raw := c.searchBatch(ctx, batch)
		telemetry.AddNoticesSeen(len(raw))

		accepted := c.acceptNew(ctx, raw, master)
		totalNew += len(accepted)
		telemetry.AddNoticesInserted(len(accepted))
		c.emit(progress.Event{
			Stage:    progress.StagePageBatch,
			Pages:    len(batch),
			Records:  len(raw),
			Inserted: len(accepted),
		})
		c.logger.Info("page batch processed",
			zap.Ints("pages", batch),
			zap.Int("records", len(raw)),
			zap.Int("new", len(accepted)),
		)

		jobs := c.fetchChildren(ctx, accepted)
		pending = append(pending, jobs...)

		if len(pending) >= c.cfg.ConversionBatchSize {
			c.drain(ctx, pending)
			pending = pending[:0]
		}
	}

	if len(pending) > 0 {
		c.drain(ctx, pending)
	}

	c.logger.Info("ingestion run finished", zap.Int("new_notices", totalNew))

	if c.backfiller != nil {
		if err := c.backfiller.Run(ctx); err != nil {
			c.emit(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
			return fmt.Errorf("backfill pass: %w", err)
		}
	}
	c.emit(progress.Event{Stage: progress.StageRunDone})
	return nil
}

// searchBatch fetches every (sort, document type, page) combination in the
// batch, concatenating results. A failed page contributes nothing and the
// batch continues.
func (c *Coordinator) searchBatch(ctx context.Context, pages []int) []catalog.Notice {
	var out []catalog.Notice
	for _, sort := range c.cfg.Sorts {
		for _, docType := range c.cfg.DocumentTypes {
			for _, page := range pages {
				notices, err := c.client.Search(ctx, catalog.SearchQuery{
					Sort:         sort,
					DocumentType: docType,
					Page:         page,
					PageSize:     c.cfg.PageSize,
				})
				if err != nil {
					telemetry.IncSearchFailure(docType)
					c.logger.Warn("search page failed",
						zap.String("sort", sort),
						zap.String("document_type", docType),
						zap.Int("page", page),
						zap.Error(err),
					)
					continue
				}
				out = append(out, notices...)
			}
		}
	}
	return out
}

// acceptNew dedups raw records against the master set, inserts the new
// ones and returns them. The master set is updated immediately on
// acceptance so a control number surfacing again through another
// sort/type combination is fetched only once per run.
func (c *Coordinator) acceptNew(ctx context.Context, raw []catalog.Notice, master map[string]struct{}) []catalog.Notice {
	var accepted []catalog.Notice
	for _, n := range raw {
		if n.ControlNumber == "" {
			c.logger.Warn("skipping record without control number")
			continue
		}
		if _, known := master[n.ControlNumber]; known {
			continue
		}
		master[n.ControlNumber] = struct{}{}

		inserted, err := c.store.UpsertNotice(ctx, n)
		if err != nil {
			c.logger.Error("insert notice failed",
				zap.String("control_number", n.ControlNumber),
				zap.Error(err),
			)
			continue
		}
		if !inserted {
			// Present in the store but missing from the snapshot; another
			// writer got there first. Children are left to the backfill pass.
			continue
		}
		c.emit(progress.Event{Stage: progress.StageNoticeStored, ControlNumber: n.ControlNumber})
		accepted = append(accepted, n)
	}
	return accepted
}

// fetchChildren retrieves items and files for each accepted notice and
// returns the conversion jobs for attachments with a usable URL. The
// parent row is already committed by the time children are attempted.
func (c *Coordinator) fetchChildren(ctx context.Context, accepted []catalog.Notice) []convert.Job {
	var (
		jobs [][]convert.Job
		g    *errgroup.Group
	)
	jobs = make([][]convert.Job, len(accepted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ChildFetchConcurrency)

	for i, n := range accepted {
		if !n.HasChildKeys() {
			c.logger.Warn("notice missing org/year/sequence, skipping child fetch",
				zap.String("control_number", n.ControlNumber),
			)
			continue
		}
		g.Go(func() error {
			jobs[i] = c.fetchChildrenOne(gctx, n)
			return nil
		})
	}
	// Workers never return errors; failures are downgraded in place.
	_ = g.Wait()

	var flat []convert.Job
	for _, js := range jobs {
		flat = append(flat, js...)
	}
	return flat
}

func (c *Coordinator) fetchChildrenOne(ctx context.Context, n catalog.Notice) []convert.Job {
	items, err := c.client.FetchItems(ctx, n.OrgID, n.Year, n.SequenceNumber)
	if err != nil {
		telemetry.IncChildFetchFailure("items")
		c.logger.Warn("items fetch failed, treating as empty",
			zap.String("control_number", n.ControlNumber),
			zap.Error(err),
		)
		items = nil
	}
	for _, it := range items {
		it.ControlNumber = n.ControlNumber
		if _, err := c.store.UpsertItem(ctx, it); err != nil {
			c.logger.Error("insert item failed",
				zap.String("control_number", n.ControlNumber),
				zap.Int("number", it.Number),
				zap.Error(err),
			)
		}
	}
	if len(items) > 0 {
		c.logger.Info("items stored",
			zap.String("control_number", n.ControlNumber),
			zap.Int("count", len(items)),
		)
	}

	files, err := c.client.FetchFiles(ctx, n.OrgID, n.Year, n.SequenceNumber)
	if err != nil {
		telemetry.IncChildFetchFailure("files")
		c.logger.Warn("files fetch failed, treating as empty",
			zap.String("control_number", n.ControlNumber),
			zap.Error(err),
		)
		files = nil
	}
	var jobs []convert.Job
	for _, f := range files {
		f.ControlNumber = n.ControlNumber
		if _, err := c.store.UpsertAttachment(ctx, f); err != nil {
			c.logger.Error("insert attachment failed",
				zap.String("control_number", n.ControlNumber),
				zap.Int("sequence", f.Sequence),
				zap.Error(err),
			)
			continue
		}
		if f.URL != "" {
			jobs = append(jobs, convert.Job{
				ControlNumber: n.ControlNumber,
				Sequence:      f.Sequence,
				URL:           f.URL,
			})
		}
	}
	if len(files) > 0 {
		c.logger.Info("attachments stored",
			zap.String("control_number", n.ControlNumber),
			zap.Int("count", len(files)),
		)
	}
	return jobs
}

// drain hands the buffered jobs to the conversion pool.
func (c *Coordinator) drain(ctx context.Context, jobs []convert.Job) {
	if c.sink == nil {
		return
	}
	c.logger.Info("draining conversion buffer", zap.Int("jobs", len(jobs)))
	for _, job := range jobs {
		if err := c.sink.Submit(ctx, job); err != nil {
			c.logger.Warn("conversion submit failed",
				zap.String("control_number", job.ControlNumber),
				zap.Int("sequence", job.Sequence),
				zap.Error(err),
			)
			return
		}
	}
}
