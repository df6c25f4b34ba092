// Package convert runs document-to-text conversion on a bounded worker pool.
package convert

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/policy/ratelimit"
	"github.com/pncplab/harvester/internal/telemetry"
)

// FailedPlaceholder is stored as the content of a failed conversion.
const FailedPlaceholder = "document could not be converted to markdown"

// maxDocumentBytes guards against runaway downloads.
const maxDocumentBytes = 32 << 20

// Job identifies one attachment to convert.
type Job struct {
	ControlNumber string
	Sequence      int
	URL           string
}

// Extractor turns raw document bytes into markdown text.
type Extractor interface {
	Extract(contentType string, body []byte) (string, error)
}

// Config controls pool sizing.
type Config struct {
	// Workers is the number of parallel conversion workers. Conversion is
	// dominated by document parsing, not API rate limits, so this is
	// independent of the admission gate.
	Workers int
	// QueueDepth bounds the pending job channel.
	QueueDepth int
	// Timeout applies to each document fetch.
	Timeout time.Duration
	// HostRPS throttles downloads per document host. Zero disables the
	// throttle.
	HostRPS float64
}

// Pool is a long-lived fixed-size worker pool. Jobs are independent and
// workers share no mutable state beyond the store handle; no failure
// escapes the pool boundary.
type Pool struct {
	cfg       Config
	store     catalog.Store
	extractor Extractor
	clock     catalog.Clock
	http      *http.Client
	limiter   *ratelimit.Limiter
	logger    *zap.Logger

	jobs chan Job
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewPool constructs a Pool. Call Start before submitting jobs.
func NewPool(cfg Config, store catalog.Store, extractor Extractor, clock catalog.Clock, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		clock:     clock,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HostRPS}),
		logger:    logger,
		jobs:      make(chan Job, cfg.QueueDepth),
	}
}

// Start launches the workers. They drain the job channel until Close is
// called or the context ends.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					p.process(ctx, job)
				}
			}
		}()
	}
}

// Submit queues one job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("submit conversion: %w", ctx.Err())
	case p.jobs <- job:
		return nil
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func (p *Pool) process(ctx context.Context, job Job) {
	filename := p.resolveFilename(ctx, job)

	content, err := p.fetchAndExtract(ctx, job.URL)
	conv := catalog.Conversion{
		ControlNumber: job.ControlNumber,
		Sequence:      job.Sequence,
		Filename:      filename,
		Content:       content,
		OK:            err == nil,
		ConvertedAt:   p.clock.Now(),
	}
	if err != nil {
		conv.Content = FailedPlaceholder
		conv.Error = err.Error()
	}

	if serr := p.store.UpsertConversion(ctx, conv); serr != nil {
		p.logger.Error("persist conversion failed",
			zap.String("control_number", job.ControlNumber),
			zap.Int("sequence", job.Sequence),
			zap.Error(serr),
		)
		return
	}
	telemetry.IncConversion(conv.OK)
	p.logger.Info("conversion recorded",
		zap.String("control_number", job.ControlNumber),
		zap.Int("sequence", job.Sequence),
		zap.Bool("ok", conv.OK),
	)
}

// resolveFilename asks the document host for a display name and falls back
// to a synthesized one.
func (p *Pool) resolveFilename(ctx context.Context, job Job) string {
	fallback := fmt.Sprintf("%s_%d", job.ControlNumber, job.Sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, job.URL, nil)
	if err != nil {
		return fallback
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fallback
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return fallback
	}
	if name := params["filename"]; name != "" {
		return name
	}
	return fallback
}

func (p *Pool) fetchAndExtract(ctx context.Context, url string) (string, error) {
	if err := p.limiter.Wait(ctx, url); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch document: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	text, err := p.extractor.Extract(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}
