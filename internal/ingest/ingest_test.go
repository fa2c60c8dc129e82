package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/config"
	"github.com/dealbrain/dealbrain/internal/dedup"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
	"github.com/dealbrain/dealbrain/internal/listings"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/persistence/memstore"
	"github.com/dealbrain/dealbrain/internal/telemetry"
	"github.com/dealbrain/dealbrain/internal/valuation"
)

type fakeAdapter struct {
	meta    adapter.Metadata
	respond func(url string) (*domain.NormalizedListing, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Metadata() adapter.Metadata { return f.meta }

func (f *fakeAdapter) Extract(_ context.Context, url string) (*domain.NormalizedListing, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond(url)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type publishedEvent struct {
	typ     events.Type
	payload any
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, typ events.Type, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{typ: typ, payload: payload})
}

func (f *fakePublisher) byType(typ events.Type) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.published {
		if e.typ == typ {
			out = append(out, e.payload)
		}
	}
	return out
}

type harness struct {
	store   *memstore.Store
	svc     *Service
	pub     *fakePublisher
	ad      *fakeAdapter
	metrics *telemetry.Metrics
}

func newHarness(respond func(url string) (*domain.NormalizedListing, error), opts ...func(*Deps)) *harness {
	log := zerolog.Nop()
	store := memstore.New()
	pub := &fakePublisher{}
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())

	ls := listings.New(listings.Deps{
		Store:     store,
		Engine:    valuation.NewEngine(log),
		Publisher: pub,
		Metrics:   metrics,
		Dedup:     config.DedupConfig{},
	}, log)

	ad := &fakeAdapter{
		meta:    adapter.Metadata{Name: "fake", SupportedDomains: []string{adapter.Wildcard}},
		respond: respond,
	}
	router := adapter.NewRouter(nil, log)
	router.Register(ad)

	d := Deps{
		Router:      router,
		Checker:     dedup.NewChecker(store.Repo().Listings, log),
		Listings:    ls,
		Imports:     store.Repo().Imports,
		Publisher:   pub,
		Metrics:     metrics,
		Concurrency: 2,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return &harness{store: store, svc: New(d, log), pub: pub, ad: ad, metrics: metrics}
}

func normalizedPC(title, vendorID, price string) *domain.NormalizedListing {
	n := &domain.NormalizedListing{
		Title:        title,
		Marketplace:  domain.MarketplaceEbay,
		Condition:    domain.ConditionUsed,
		Seller:       "refurbdepot",
		VendorItemID: vendorID,
	}
	n.MarkExtracted("title")
	if price != "" {
		p := decimal.RequireFromString(price)
		n.Price = &p
		n.MarkExtracted("price")
	}
	n.Finalize()
	return n
}

func TestIngestURLCreatesListing(t *testing.T) {
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		return normalizedPC("HP EliteDesk 800 G6", "VND-1", "450.00"), nil
	})

	res, err := h.svc.IngestURL(context.Background(), "https://www.ebay.com/itm/hp-elitedesk/111")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "fake", res.Adapter)
	require.NotZero(t, res.Listing.ID)
	stored := h.store.Listing(res.Listing.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "HP EliteDesk 800 G6", stored.Title)
	require.NotNil(t, stored.PriceUSD)
	assert.True(t, stored.PriceUSD.Equal(decimal.RequireFromString("450.00")))
	require.NotNil(t, stored.AdjustedPriceUSD, "priced ingest values inline")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("fake", "created")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.AdapterFetchSeconds))
	assert.Len(t, h.pub.byType(events.ListingCreated), 1)
}

func TestIngestURLUpdatesExisting(t *testing.T) {
	price := "450.00"
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		return normalizedPC("HP EliteDesk 800 G6", "VND-1", price), nil
	})
	ctx := context.Background()

	first, err := h.svc.IngestURL(ctx, "https://www.ebay.com/itm/hp-elitedesk/111")
	require.NoError(t, err)

	price = "399.00"
	second, err := h.svc.IngestURL(ctx, "https://www.ebay.com/itm/hp-elitedesk/111")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Listing.ID, second.Listing.ID)
	assert.Contains(t, second.Changes, "price_usd")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("fake", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("fake", "updated")))
}

func TestIngestURLRejectsBadURL(t *testing.T) {
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		t.Fatal("adapter must not be consulted")
		return nil, nil
	})

	_, err := h.svc.IngestURL(context.Background(), "ftp://warez.example/pc")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Zero(t, h.ad.callCount())
}

func TestIngestURLNoAdapter(t *testing.T) {
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		return normalizedPC("PC", "VND-1", "100"), nil
	})
	h.ad.meta.SupportedDomains = []string{"ebay.com"}

	_, err := h.svc.IngestURL(context.Background(), "https://craigslist.example.org/post/1")
	assert.True(t, adapter.IsKind(err, adapter.KindNoAdapterFound))
}

func TestIngestURLExtractionErrorPropagates(t *testing.T) {
	h := newHarness(func(url string) (*domain.NormalizedListing, error) {
		return nil, adapter.NewError(adapter.KindItemNotFound, "fake", "item %s is gone", url)
	})

	_, err := h.svc.IngestURL(context.Background(), "https://www.ebay.com/itm/gone/404")
	assert.True(t, adapter.IsKind(err, adapter.KindItemNotFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestTotal.WithLabelValues("fake", "error")))

	total, err := h.store.Repo().Listings.Count(context.Background(), persistence.ListingFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestBulkIngestFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "urls.txt")
	content := `# refurb batch for review
https://www.ebay.com/itm/alpha

https://www.ebay.com/itm/beta
https://www.ebay.com/itm/alpha
https://www.ebay.com/itm/broken
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	h := newHarness(func(url string) (*domain.NormalizedListing, error) {
		switch filepath.Base(url) {
		case "alpha":
			return normalizedPC("HP EliteDesk 800 G6", "VND-A", "450.00"), nil
		case "beta":
			return normalizedPC("Lenovo ThinkCentre M720q", "VND-B", "320.00"), nil
		default:
			return nil, adapter.NewError(adapter.KindItemNotFound, "fake", "item gone")
		}
	}, func(d *Deps) { d.ImportRoot = dir })

	report, err := h.svc.BulkIngestFile(context.Background(), "urls.txt")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)

	job, err := h.store.Repo().Imports.GetJob(context.Background(), report.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Equal(t, 4, job.TotalURLs)
	assert.Equal(t, 2, job.ListingsCreated)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, file, job.SourcePath)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	tasks := h.store.Tasks()
	require.Len(t, tasks, 4)
	byStatus := map[domain.TaskRunStatus][]domain.TaskRun{}
	for _, task := range tasks {
		assert.Equal(t, domain.TaskIngestURL, task.TaskType)
		require.NotNil(t, task.ImportJobID)
		assert.Equal(t, report.JobID, *task.ImportJobID)
		byStatus[task.Status] = append(byStatus[task.Status], task)
	}
	assert.Len(t, byStatus[domain.TaskSucceeded], 2)
	require.Len(t, byStatus[domain.TaskFailed], 1)
	require.Len(t, byStatus[domain.TaskSkipped], 1)

	failedTask := byStatus[domain.TaskFailed][0]
	assert.Equal(t, "https://www.ebay.com/itm/broken", failedTask.Reference)
	require.NotNil(t, failedTask.ErrorKind)
	assert.Equal(t, "ITEM_NOT_FOUND", *failedTask.ErrorKind)
	require.NotNil(t, failedTask.ErrorMessage)

	skippedTask := byStatus[domain.TaskSkipped][0]
	assert.Equal(t, "https://www.ebay.com/itm/alpha", skippedTask.Reference)

	for _, task := range byStatus[domain.TaskSucceeded] {
		require.NotNil(t, task.ListingID)
		assert.NotNil(t, h.store.Listing(*task.ListingID))
	}

	completed := h.pub.byType(events.ImportCompleted)
	require.Len(t, completed, 1)
	evt := completed[0].(events.ImportCompletedEvent)
	assert.Equal(t, report.JobID, evt.ImportJobID)
	assert.Equal(t, 2, evt.ListingsCreated)
	assert.Equal(t, 0, evt.ListingsUpdated)
}

func TestBulkIngestFileWithoutURLs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("# nothing here\n\n"), 0o644))

	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		return nil, nil
	}, func(d *Deps) { d.ImportRoot = dir })

	_, err := h.svc.BulkIngestFile(context.Background(), "empty.txt")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = h.svc.BulkIngestFile(context.Background(), "missing.txt")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestBulkIngestConcurrentSameItem(t *testing.T) {
	// Two URLs resolve to the same vendor item; the dedup re-probe under the
	// content-hash lock must fold the loser into an update.
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		return normalizedPC("Dell OptiPlex 7080", "VND-X", "500.00"), nil
	})

	report, err := h.svc.BulkIngest(context.Background(), "manual", []string{
		"https://www.ebay.com/itm/dell-a",
		"https://www.ebay.com/itm/dell-b",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Failed)

	total, err := h.store.Repo().Listings.Count(context.Background(), persistence.ListingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, h.pub.byType(events.ListingCreated), 1)
}

func TestBulkIngestCancelledRunFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(func(string) (*domain.NormalizedListing, error) {
		cancel()
		return nil, adapter.WrapError(adapter.KindTimeout, "fake", context.Canceled, "fetch aborted")
	}, func(d *Deps) { d.Concurrency = 1 })

	report, err := h.svc.BulkIngest(ctx, "manual", []string{
		"https://www.ebay.com/itm/one",
		"https://www.ebay.com/itm/two",
		"https://www.ebay.com/itm/three",
	})
	require.Error(t, err)
	assert.Nil(t, report)

	job, getErr := h.store.Repo().Imports.GetJob(context.Background(), 1)
	require.NoError(t, getErr)
	require.NotNil(t, job)
	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, 1, job.Failed, "only the first task ran")
	require.NotNil(t, job.Error)
	require.NotNil(t, job.CompletedAt)

	require.Len(t, h.store.Tasks(), 1)
	assert.Empty(t, h.pub.byType(events.ImportCompleted))
}

func TestBulkIngestRejectsEmptyList(t *testing.T) {
	h := newHarness(func(string) (*domain.NormalizedListing, error) { return nil, nil })

	_, err := h.svc.BulkIngest(context.Background(), "manual", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
