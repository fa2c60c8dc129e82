// Package ingest drives the pipeline for a source URL: adapter selection,
// extraction, duplicate resolution, and the listing upsert. Bulk runs fan
// out over a bounded worker group and record an import job with per-URL
// task outcomes.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/dedup"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
	"github.com/dealbrain/dealbrain/internal/listings"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/telemetry"
)

const defaultBulkConcurrency = 4

// Deps are the service collaborators. Publisher may be nil; Metrics is
// nil-safe.
type Deps struct {
	Router      *adapter.Router
	Checker     *dedup.Checker
	Listings    *listings.Service
	Imports     persistence.ImportsRepo
	Publisher   events.Publisher
	Metrics     *telemetry.Metrics
	ImportRoot  string
	Concurrency int
}

// Service runs single-URL and bulk ingestion.
type Service struct {
	router      *adapter.Router
	checker     *dedup.Checker
	listings    *listings.Service
	imports     persistence.ImportsRepo
	publisher   events.Publisher
	metrics     *telemetry.Metrics
	importRoot  string
	concurrency int
	log         zerolog.Logger
}

// New builds the ingest service.
func New(d Deps, log zerolog.Logger) *Service {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Concurrency <= 0 {
		d.Concurrency = defaultBulkConcurrency
	}
	return &Service{
		router:      d.Router,
		checker:     d.Checker,
		listings:    d.Listings,
		imports:     d.Imports,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		importRoot:  d.ImportRoot,
		concurrency: d.Concurrency,
		log:         log.With().Str("component", "ingest").Logger(),
	}
}

// Result is the outcome of one URL ingest.
type Result struct {
	Listing *domain.Listing
	Created bool
	Changes []string
	Adapter string
}

// IngestURL runs one URL through the full pipeline: select adapter, extract,
// dedup, upsert. Adapter errors carry their kind; retryable kinds were
// already absorbed by the middleware.
func (s *Service) IngestURL(ctx context.Context, url string) (*Result, error) {
	url = strings.TrimSpace(url)
	if err := domain.ValidateListingURL(url); err != nil {
		return nil, err
	}

	ad, err := s.router.Select(url)
	if err != nil {
		return nil, err
	}
	name := ad.Metadata().Name

	started := time.Now()
	n, err := ad.Extract(ctx, url)
	s.metrics.ObserveFetch(name, time.Since(started))
	if err != nil {
		s.metrics.RecordIngest(name, "error")
		s.log.Warn().Str("adapter", name).Str("url", url).Err(err).Msg("extraction failed")
		return nil, err
	}

	match, err := s.checker.Check(ctx, n)
	if err != nil {
		s.metrics.RecordIngest(name, "error")
		return nil, err
	}

	res, err := s.listings.UpsertFromNormalized(ctx, n, url, match)
	if err != nil {
		s.metrics.RecordIngest(name, "error")
		return nil, err
	}

	outcome := "updated"
	if res.Created {
		outcome = "created"
	}
	s.metrics.RecordIngest(name, outcome)
	s.log.Info().
		Str("adapter", name).
		Str("url", url).
		Int64("listing_id", res.Listing.ID).
		Bool("created", res.Created).
		Str("quality", string(res.Listing.Quality)).
		Float64("confidence", match.Confidence).
		Msg("url ingested")
	return &Result{Listing: res.Listing, Created: res.Created, Changes: res.Changes, Adapter: name}, nil
}

// Report summarizes one bulk import run.
type Report struct {
	JobID   int64
	Total   int
	Created int
	Updated int
	Failed  int
	Skipped int
}

// BulkIngest runs every URL through IngestURL with bounded concurrency,
// recording an import job and one task run per URL. Per-URL failures are
// counted, not propagated; only cancellation aborts the run and fails the
// job. Exact-duplicate URLs in the batch are skipped.
func (s *Service) BulkIngest(ctx context.Context, sourcePath string, urls []string) (*Report, error) {
	if len(urls) == 0 {
		return nil, apperr.Validation("no urls to ingest")
	}

	job := &domain.ImportJob{
		SourcePath: sourcePath,
		Status:     domain.ImportPending,
		TotalURLs:  len(urls),
	}
	if err := s.imports.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.imports.StartJob(ctx, job.ID); err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("import_job_id", job.ID).
		Int("urls", len(urls)).
		Int("concurrency", s.concurrency).
		Str("source", sourcePath).
		Msg("bulk import started")

	var (
		mu                       sync.Mutex
		created, updated, failed int
		skipped                  int
	)

	// Task rows and the final job row are written on a detached context so a
	// cancelled run still records what it did.
	recordCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			skipped++
			now := time.Now().UTC()
			msg := "duplicate url in batch"
			s.recordTask(recordCtx, &domain.TaskRun{
				ImportJobID:  &job.ID,
				TaskType:     domain.TaskIngestURL,
				Reference:    url,
				Status:       domain.TaskSkipped,
				ErrorMessage: &msg,
				StartedAt:    now,
				FinishedAt:   now,
			})
			continue
		}
		seen[url] = struct{}{}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			started := time.Now().UTC()
			res, err := s.IngestURL(gctx, url)
			task := &domain.TaskRun{
				ImportJobID: &job.ID,
				TaskType:    domain.TaskIngestURL,
				Reference:   url,
				StartedAt:   started,
				FinishedAt:  time.Now().UTC(),
			}

			mu.Lock()
			switch {
			case err != nil:
				failed++
				task.Status = domain.TaskFailed
				task.ErrorKind = errorKind(err)
				msg := err.Error()
				task.ErrorMessage = &msg
			case res.Created:
				created++
				task.Status = domain.TaskSucceeded
				task.ListingID = &res.Listing.ID
			default:
				updated++
				task.Status = domain.TaskSucceeded
				task.ListingID = &res.Listing.ID
			}
			mu.Unlock()

			s.recordTask(recordCtx, task)
			return nil
		})
	}

	runErr := g.Wait()

	job.ListingsCreated = created
	job.ListingsUpdated = updated
	job.Failed = failed
	if runErr != nil {
		job.Status = domain.ImportFailed
		msg := runErr.Error()
		job.Error = &msg
	} else {
		job.Status = domain.ImportCompleted
	}
	if err := s.imports.CompleteJob(recordCtx, job); err != nil {
		s.log.Error().Err(err).Int64("import_job_id", job.ID).Msg("failed to finalize import job")
	}

	if runErr != nil {
		return nil, runErr
	}

	s.publisher.Publish(ctx, events.ImportCompleted, events.ImportCompletedEvent{
		ImportJobID:     job.ID,
		ListingsCreated: created,
		ListingsUpdated: updated,
		Timestamp:       time.Now().UTC(),
	})
	s.log.Info().
		Int64("import_job_id", job.ID).
		Int("created", created).
		Int("updated", updated).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("bulk import completed")
	return &Report{
		JobID:   job.ID,
		Total:   len(urls),
		Created: created,
		Updated: updated,
		Failed:  failed,
		Skipped: skipped,
	}, nil
}

// BulkIngestFile reads a URL file and runs a bulk import over its entries.
func (s *Service) BulkIngestFile(ctx context.Context, path string) (*Report, error) {
	resolved, urls, err := s.loadURLFile(path)
	if err != nil {
		return nil, err
	}
	return s.BulkIngest(ctx, resolved, urls)
}

// loadURLFile reads one URL per line, skipping blanks and # comments.
// Relative paths resolve against the configured import root.
func (s *Service) loadURLFile(path string) (string, []string, error) {
	resolved := path
	if !filepath.IsAbs(path) && s.importRoot != "" {
		resolved = filepath.Join(s.importRoot, path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindValidation, err, "cannot read url file %s", resolved)
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return resolved, urls, nil
}

func (s *Service) recordTask(ctx context.Context, t *domain.TaskRun) {
	if err := s.imports.RecordTaskRun(ctx, t); err != nil {
		s.log.Warn().Err(err).Str("url", t.Reference).Msg("failed to record task run")
	}
}

// errorKind extracts the structured kind from adapter or service errors;
// unclassified errors store a NULL kind with the message intact.
func errorKind(err error) *string {
	if k := adapter.KindOf(err); k != "" {
		s := string(k)
		return &s
	}
	if k := apperr.KindOf(err); k != "" {
		s := string(k)
		return &s
	}
	return nil
}
