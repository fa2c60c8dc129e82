// Package listings is the write path for the listing aggregate: payload
// normalization, component resolution, persistence, the partial-import
// lifecycle, and the change-driven side effects (events, count-cache
// invalidation, recalculation scheduling).
package listings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/config"
	"github.com/dealbrain/dealbrain/internal/dedup"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/recalc"
	"github.com/dealbrain/dealbrain/internal/telemetry"
	"github.com/dealbrain/dealbrain/internal/valuation"
)

// Scheduler enqueues asynchronous revaluations. Field edits that touch a
// valuation input go through here instead of re-running the engine inline.
type Scheduler interface {
	Enqueue(ctx context.Context, req recalc.Request) (int, error)
}

// CountInvalidator drops cached listing totals after a write that could
// change them.
type CountInvalidator interface {
	Invalidate(ctx context.Context)
}

// Deps carries the service collaborators. Counts and Recalc may be nil when
// the caller has no Redis (tests, one-shot tools); those side effects are
// then skipped.
type Deps struct {
	Store     persistence.UnitOfWork
	Engine    *valuation.Engine
	Publisher events.Publisher
	Counts    CountInvalidator
	Recalc    Scheduler
	Metrics   *telemetry.Metrics
	Dedup     config.DedupConfig
}

// Service owns listing writes. Every mutation runs under the listing's
// advisory lock, publishes events only after commit, and reports the changed
// columns so observers can react precisely.
type Service struct {
	store        persistence.UnitOfWork
	engine       *valuation.Engine
	publisher    events.Publisher
	counts       CountInvalidator
	recalc       Scheduler
	metrics      *telemetry.Metrics
	thresholdPct float64
	log          zerolog.Logger
}

func New(d Deps, log zerolog.Logger) *Service {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	return &Service{
		store:        d.Store,
		engine:       d.Engine,
		publisher:    d.Publisher,
		counts:       d.Counts,
		recalc:       d.Recalc,
		metrics:      d.Metrics,
		thresholdPct: d.Dedup.PriceChangeThresholdPct,
		log:          log.With().Str("component", "listings").Logger(),
	}
}

// UpsertResult reports what one ingest write did.
type UpsertResult struct {
	Listing *domain.Listing
	Created bool
	Changes []string
}

// Create persists a new listing from a manual payload. A priced listing is
// valued inline within the same transaction; an unpriced one is stored as a
// partial import awaiting completion.
func (s *Service) Create(ctx context.Context, p Payload) (*domain.Listing, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if p.Title == nil || strings.TrimSpace(*p.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if p.ListingURL == nil {
		return nil, apperr.Validation("listing_url is required")
	}

	l := &domain.Listing{
		Condition:   domain.ConditionUsed,
		Status:      domain.StatusActive,
		Marketplace: domain.MarketplaceOther,
		Quality:     domain.QualityFull,
	}
	p.apply(l)
	if l.PriceUSD != nil {
		setFieldStatus(l, "price", domain.FieldManual)
	} else {
		markPriceMissing(l, domain.FieldExtractionFailed)
	}
	refreshDedupHash(l)

	err := s.store.WithTx(ctx, func(repo *persistence.Repository) error {
		if err := resolveComponents(ctx, repo.Catalog, l, p.hints(), true); err != nil {
			return err
		}
		if err := repo.Listings.Insert(ctx, l); err != nil {
			return err
		}
		if l.HasPrice() {
			if _, err := s.engine.Run(ctx, repo, l); err != nil {
				return err
			}
			s.metrics.RecordValuation()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.ListingCreated, events.ListingEvent{ListingID: l.ID, Timestamp: time.Now().UTC()})
	s.invalidateCounts(ctx)
	s.log.Info().Int64("listing_id", l.ID).Str("title", l.Title).Msg("listing created")
	return l, nil
}

// Update applies a field-edit payload. It does not re-run valuation inline;
// edits that touch a valuation input schedule an asynchronous recalculation
// instead, and removing the price clears the stored metrics immediately.
func (s *Service) Update(ctx context.Context, id int64, p Payload) (*domain.Listing, []string, error) {
	if err := p.normalize(); err != nil {
		return nil, nil, err
	}

	var before, work *domain.Listing
	var changes []string
	err := s.store.WithListingLock(ctx, listingLockKey(id), func(repo *persistence.Repository) error {
		fresh, err := repo.Listings.Get(ctx, id)
		if err != nil {
			return err
		}
		if fresh == nil {
			return apperr.NotFound("listing %d not found", id)
		}
		before = fresh
		work = cloneForWrite(fresh)

		p.apply(work)
		if p.PriceUSD != nil {
			setFieldStatus(work, "price", domain.FieldManual)
			work.MissingFields = removeField(work.MissingFields, "price")
		}
		if p.ClearPrice {
			markPriceMissing(work, domain.FieldManual)
		}
		reconcileQuality(work)
		if err := resolveComponents(ctx, repo.Catalog, work, p.hints(), true); err != nil {
			return err
		}
		refreshDedupHash(work)

		if err := repo.Listings.Update(ctx, work); err != nil {
			return err
		}
		if p.ClearPrice {
			if err := repo.Listings.ClearMetrics(ctx, work.ID); err != nil {
				return err
			}
			work.AdjustedPriceUSD = nil
			work.ValuationBreakdown = nil
			domain.MetricSet{}.ApplyTo(work)
		}
		changes = Diff(before, work)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(changes) > 0 {
		s.publishUpdated(ctx, work.ID, changes)
		s.maybeInvalidateCounts(ctx, changes)
		s.scheduleRecalc(ctx, work.ID, changes)
	}
	s.publishPriceChanged(ctx, work.ID, before.PriceUSD, work.PriceUSD)
	return work, changes, nil
}

// UpsertFromNormalized persists one adapter extraction: a dedup miss inserts
// a new listing, a hit folds the scrape into the matched row. Priced rows
// are valued inline so the pipeline output is consistent at commit.
func (s *Service) UpsertFromNormalized(ctx context.Context, n *domain.NormalizedListing, sourceURL string, match dedup.Match) (*UpsertResult, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateListingURL(sourceURL); err != nil {
		return nil, err
	}
	if match.Exists && match.Existing != nil {
		return s.updateFromNormalized(ctx, n, sourceURL, match)
	}
	return s.createFromNormalized(ctx, n, sourceURL, match)
}

func (s *Service) createFromNormalized(ctx context.Context, n *domain.NormalizedListing, sourceURL string, match dedup.Match) (*UpsertResult, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized listing: %w", err)
	}

	now := time.Now().UTC()
	l := &domain.Listing{
		Title:              n.Title,
		ListingURL:         sourceURL,
		Seller:             strPtrOrNil(n.Seller),
		Condition:          n.Condition,
		Status:             domain.StatusActive,
		Marketplace:        n.Marketplace,
		VendorItemID:       strPtrOrNil(n.VendorItemID),
		DedupHash:          strPtrOrNil(match.DedupHash),
		Manufacturer:       strPtrOrNil(n.Manufacturer),
		ModelNumber:        strPtrOrNil(n.ModelNumber),
		Quality:            n.Quality,
		ExtractionMetadata: maps.Clone(n.ExtractionMetadata),
		MissingFields:      slices.Clone(n.MissingFields),
		RawListingJSON:     raw,
		LastSeenAt:         &now,
	}
	if n.Price != nil {
		pr := *n.Price
		l.PriceUSD = &pr
	}
	l.Attributes = mergeAttributes(nil, n)
	if l.Quality == "" {
		reconcileQuality(l)
	}

	var winner *domain.Listing
	err = s.store.WithListingLock(ctx, dedupLockKey(match.DedupHash), func(repo *persistence.Repository) error {
		// The dedup check ran outside this lock; a concurrent ingest of the
		// same item may have inserted since. Re-probe before creating.
		existing, err := recheckDuplicate(ctx, repo.Listings, n, match.DedupHash)
		if err != nil {
			return err
		}
		if existing != nil {
			winner = existing
			return nil
		}
		if err := resolveComponents(ctx, repo.Catalog, l, hintsFromNormalized(n), false); err != nil {
			return err
		}
		if err := repo.Listings.Insert(ctx, l); err != nil {
			return err
		}
		if l.HasPrice() {
			if _, err := s.engine.Run(ctx, repo, l); err != nil {
				return err
			}
			s.metrics.RecordValuation()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if winner != nil {
		match.Exists = true
		match.Existing = winner
		return s.updateFromNormalized(ctx, n, sourceURL, match)
	}

	s.publisher.Publish(ctx, events.ListingCreated, events.ListingEvent{ListingID: l.ID, Timestamp: time.Now().UTC()})
	s.invalidateCounts(ctx)
	s.log.Info().
		Int64("listing_id", l.ID).
		Str("marketplace", string(l.Marketplace)).
		Str("quality", string(l.Quality)).
		Msg("listing ingested")
	return &UpsertResult{Listing: l, Created: true}, nil
}

// recheckDuplicate repeats the dedup lookup against the transaction-bound
// repo, vendor item first.
func recheckDuplicate(ctx context.Context, repo persistence.ListingsRepo, n *domain.NormalizedListing, hash string) (*domain.Listing, error) {
	if n.VendorItemID != "" && n.Marketplace != "" {
		existing, err := repo.FindByVendorItem(ctx, n.Marketplace, n.VendorItemID)
		if err != nil || existing != nil {
			return existing, err
		}
	}
	return repo.FindByDedupHash(ctx, hash)
}

func (s *Service) updateFromNormalized(ctx context.Context, n *domain.NormalizedListing, sourceURL string, match dedup.Match) (*UpsertResult, error) {
	id := match.Existing.ID
	var before, work *domain.Listing
	var changes []string
	err := s.store.WithListingLock(ctx, listingLockKey(id), func(repo *persistence.Repository) error {
		fresh, err := repo.Listings.Get(ctx, id)
		if err != nil {
			return err
		}
		if fresh == nil {
			return apperr.NotFound("listing %d disappeared during upsert", id)
		}
		before = fresh
		work = cloneForWrite(fresh)

		if err := mergeNormalized(work, n, sourceURL, match.DedupHash); err != nil {
			return err
		}
		if err := resolveComponents(ctx, repo.Catalog, work, hintsFromNormalized(n), false); err != nil {
			return err
		}
		if err := repo.Listings.Update(ctx, work); err != nil {
			return err
		}

		dirty := Diff(before, work)
		if work.HasPrice() && (len(dirty) > 0 || work.AdjustedPriceUSD == nil) {
			if _, err := s.engine.Run(ctx, repo, work); err != nil {
				return err
			}
			s.metrics.RecordValuation()
		}

		now := time.Now().UTC()
		if err := repo.Listings.TouchLastSeen(ctx, work.ID, now); err != nil {
			return err
		}
		work.LastSeenAt = &now
		changes = Diff(before, work)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.publishUpdated(ctx, work.ID, changes)
		s.maybeInvalidateCounts(ctx, changes)
	}
	s.publishPriceChanged(ctx, work.ID, before.PriceUSD, work.PriceUSD)
	return &UpsertResult{Listing: work, Created: false, Changes: changes}, nil
}

// CompletePartialImport supplies the price a partial import is missing. The
// listing is promoted to full quality when nothing else is outstanding, and
// valuation plus metrics run inline before the update event fires.
func (s *Service) CompletePartialImport(ctx context.Context, id int64, price decimal.Decimal) (*domain.Listing, error) {
	if !price.IsPositive() {
		return nil, apperr.Validation("completion price must be positive, got %s", price)
	}

	var before, work *domain.Listing
	err := s.store.WithListingLock(ctx, listingLockKey(id), func(repo *persistence.Repository) error {
		fresh, err := repo.Listings.Get(ctx, id)
		if err != nil {
			return err
		}
		if fresh == nil {
			return apperr.NotFound("listing %d not found", id)
		}
		if fresh.Quality != domain.QualityPartial {
			return apperr.Validation("listing %d is not a partial import", id)
		}
		before = fresh
		work = cloneForWrite(fresh)

		pr := price
		work.PriceUSD = &pr
		setFieldStatus(work, "price", domain.FieldManual)
		work.MissingFields = removeField(work.MissingFields, "price")
		if len(work.MissingFields) == 0 {
			work.Quality = domain.QualityFull
		}
		refreshDedupHash(work)

		if err := repo.Listings.Update(ctx, work); err != nil {
			return err
		}
		if _, err := s.engine.Run(ctx, repo, work); err != nil {
			return err
		}
		s.metrics.RecordValuation()
		return nil
	})
	if err != nil {
		return nil, err
	}

	changes := Diff(before, work)
	s.publishUpdated(ctx, work.ID, changes)
	s.maybeInvalidateCounts(ctx, changes)
	s.publishPriceChanged(ctx, work.ID, before.PriceUSD, work.PriceUSD)
	s.log.Info().
		Int64("listing_id", work.ID).
		Str("price_usd", price.String()).
		Str("quality", string(work.Quality)).
		Msg("partial import completed")
	return work, nil
}

// Delete removes a listing; snapshots cascade in the store.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.WithListingLock(ctx, listingLockKey(id), func(repo *persistence.Repository) error {
		fresh, err := repo.Listings.Get(ctx, id)
		if err != nil {
			return err
		}
		if fresh == nil {
			return apperr.NotFound("listing %d not found", id)
		}
		return repo.Listings.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, events.ListingDeleted, events.ListingEvent{ListingID: id, Timestamp: time.Now().UTC()})
	s.invalidateCounts(ctx)
	s.log.Info().Int64("listing_id", id).Msg("listing deleted")
	return nil
}

// mergeNormalized folds a fresh scrape into a stored listing. Manually
// curated fields are preserved; the price always tracks the source because
// it is live market data, and a scrape that lost the price never erases a
// stored one.
func mergeNormalized(l *domain.Listing, n *domain.NormalizedListing, sourceURL, hash string) error {
	manual := func(field string) bool {
		return l.ExtractionMetadata[field] == domain.FieldManual
	}

	if n.Title != "" && !manual("title") {
		l.Title = n.Title
	}
	l.ListingURL = sourceURL
	if n.Seller != "" && !manual("seller") {
		l.Seller = strPtrOrNil(n.Seller)
	}
	if n.Condition != "" && !manual("condition") {
		l.Condition = n.Condition
	}
	if n.Manufacturer != "" && !manual("manufacturer") {
		l.Manufacturer = strPtrOrNil(n.Manufacturer)
	}
	if n.ModelNumber != "" && !manual("model_number") {
		l.ModelNumber = strPtrOrNil(n.ModelNumber)
	}
	if n.VendorItemID != "" && l.VendorItemID == nil {
		l.VendorItemID = strPtrOrNil(n.VendorItemID)
	}

	if n.Price != nil {
		pr := *n.Price
		l.PriceUSD = &pr
		setFieldStatus(l, "price", domain.FieldExtracted)
		l.MissingFields = removeField(l.MissingFields, "price")
	}
	for field, status := range n.ExtractionMetadata {
		if field == "price" || manual(field) {
			continue
		}
		setFieldStatus(l, field, status)
	}
	reconcileQuality(l)

	if hash != "" {
		h := hash
		l.DedupHash = &h
	}
	l.Attributes = mergeAttributes(l.Attributes, n)

	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal normalized listing: %w", err)
	}
	l.RawListingJSON = raw
	return nil
}

// mergeAttributes keeps the extraction extras that have no dedicated column.
func mergeAttributes(attrs map[string]any, n *domain.NormalizedListing) map[string]any {
	if len(n.Images) == 0 && n.ListPrice == nil && n.Currency == "" && n.Provenance == "" {
		return attrs
	}
	if attrs == nil {
		attrs = make(map[string]any, 4)
	}
	if len(n.Images) > 0 {
		attrs["images"] = slices.Clone(n.Images)
	}
	if n.ListPrice != nil {
		attrs["list_price"] = n.ListPrice.String()
	}
	if n.Currency != "" {
		attrs["currency"] = n.Currency
	}
	if n.Provenance != "" {
		attrs["provenance"] = n.Provenance
	}
	return attrs
}

func hintsFromNormalized(n *domain.NormalizedListing) componentHints {
	return componentHints{
		CPUModel:         n.CPUModel,
		RamGB:            n.RamGB,
		PrimaryStorageGB: n.StorageGB,
	}
}

// countFilterFields are the columns cached totals can filter on, beyond the
// card-cache trigger set.
var countFilterFields = map[string]struct{}{
	"status":      {},
	"quality":     {},
	"marketplace": {},
}

func (s *Service) maybeInvalidateCounts(ctx context.Context, changes []string) {
	if domain.AnyFieldIn(changes, domain.CacheInvalidationFields) || domain.AnyFieldIn(changes, countFilterFields) {
		s.invalidateCounts(ctx)
	}
}

func (s *Service) invalidateCounts(ctx context.Context) {
	if s.counts != nil {
		s.counts.Invalidate(ctx)
	}
}

func (s *Service) scheduleRecalc(ctx context.Context, id int64, changes []string) {
	if s.recalc == nil || !domain.AnyFieldIn(changes, domain.RecalcTriggerFields) {
		return
	}
	if _, err := s.recalc.Enqueue(ctx, recalc.Request{ListingIDs: []int64{id}, Reason: recalc.ReasonFieldUpdate}); err != nil {
		s.log.Warn().Err(err).Int64("listing_id", id).Msg("recalc enqueue failed")
	}
}

func (s *Service) publishUpdated(ctx context.Context, id int64, changes []string) {
	s.publisher.Publish(ctx, events.ListingUpdated, events.ListingUpdatedEvent{
		ListingID: id,
		Changes:   changes,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishPriceChanged(ctx context.Context, id int64, oldPrice, newPrice *decimal.Decimal) {
	if !dedup.PriceChanged(oldPrice, newPrice, s.thresholdPct) {
		return
	}
	old := decimal.Zero
	if oldPrice != nil {
		old = *oldPrice
	}
	s.publisher.Publish(ctx, events.PriceChanged, events.PriceChangedEvent{
		ListingID: id,
		OldPrice:  old,
		NewPrice:  *newPrice,
		Timestamp: time.Now().UTC(),
	})
}

// resolveComponents canonicalizes component hints into catalog rows and
// points the listing at them. overwrite controls whether hints replace
// already-resolved references (explicit payload edits) or only fill gaps
// (ingest merges).
func resolveComponents(ctx context.Context, catalog persistence.CatalogRepo, l *domain.Listing, h componentHints, overwrite bool) error {
	if h.CPUModel != "" && (overwrite || l.CPUID == nil) {
		cpu, err := catalog.FindCPUByName(ctx, h.CPUModel)
		if err != nil {
			return err
		}
		if cpu == nil {
			cpu, err = catalog.GetOrCreateCPU(ctx, domain.CPU{
				Name:         h.CPUModel,
				Manufacturer: domain.InferManufacturer(h.CPUModel),
			})
			if err != nil {
				return err
			}
		}
		id := cpu.ID
		l.CPUID = &id
	}

	if h.ramProvided() && (overwrite || l.RamSpecID == nil) {
		spec := domain.RamSpec{
			DDRGeneration:   domain.ParseDDRGeneration(h.RamType),
			SpeedMHz:        h.RamSpeedMHz,
			ModuleCount:     h.RamModules,
			TotalCapacityGB: h.RamGB,
		}
		// A partial edit inherits the rest of the tuple from the spec the
		// listing already points at.
		if l.RamSpecID != nil {
			current, err := catalog.GetRamSpec(ctx, *l.RamSpecID)
			if err != nil {
				return err
			}
			if current != nil {
				if h.RamType == "" {
					spec.DDRGeneration = current.DDRGeneration
				}
				if spec.SpeedMHz == 0 {
					spec.SpeedMHz = current.SpeedMHz
				}
				if spec.ModuleCount == 0 {
					spec.ModuleCount = current.ModuleCount
				}
				if spec.TotalCapacityGB == 0 {
					spec.TotalCapacityGB = current.TotalCapacityGB
				}
			}
		}
		if spec.TotalCapacityGB == 0 {
			spec.TotalCapacityGB = l.RamGB
		}
		if spec.ModuleCount > 0 && spec.TotalCapacityGB > 0 && spec.TotalCapacityGB%spec.ModuleCount == 0 {
			spec.CapacityPerModuleGB = spec.TotalCapacityGB / spec.ModuleCount
		}
		canonical, err := catalog.GetOrCreateRamSpec(ctx, spec)
		if err != nil {
			return err
		}
		id := canonical.ID
		l.RamSpecID = &id
		if canonical.TotalCapacityGB > 0 && (overwrite || l.RamGB == 0) {
			l.RamGB = canonical.TotalCapacityGB
		}
	}

	if err := resolveStorage(ctx, catalog, h.PrimaryStorageGB, h.PrimaryStorageType, overwrite,
		&l.PrimaryStorageProfileID, &l.PrimaryStorageGB, &l.PrimaryStorageType); err != nil {
		return err
	}
	return resolveStorage(ctx, catalog, h.SecondaryStorageGB, h.SecondaryStorageType, overwrite,
		&l.SecondaryStorageProfileID, &l.SecondaryStorageGB, &l.SecondaryStorageType)
}

func resolveStorage(ctx context.Context, catalog persistence.CatalogRepo, gb int, typ string, overwrite bool, profileID **int64, capacityGB *int, medium **string) error {
	if gb <= 0 && typ == "" {
		return nil
	}
	if !overwrite && *profileID != nil {
		return nil
	}
	want := domain.StorageProfile{
		Medium:     domain.ParseStorageMedium(typ),
		CapacityGB: gb,
	}
	if *profileID != nil {
		current, err := catalog.GetStorageProfile(ctx, **profileID)
		if err != nil {
			return err
		}
		if current != nil {
			if typ == "" {
				want.Medium = current.Medium
			}
			if want.CapacityGB == 0 {
				want.CapacityGB = current.CapacityGB
			}
			want.Interface = current.Interface
			want.FormFactor = current.FormFactor
			want.PerformanceTier = current.PerformanceTier
		}
	}
	if want.CapacityGB == 0 {
		want.CapacityGB = *capacityGB
	}
	prof, err := catalog.GetOrCreateStorageProfile(ctx, want)
	if err != nil {
		return err
	}
	id := prof.ID
	*profileID = &id
	if prof.CapacityGB > 0 && (overwrite || *capacityGB == 0) {
		*capacityGB = prof.CapacityGB
	}
	if prof.Medium != domain.MediumUnknown {
		m := string(prof.Medium)
		*medium = &m
	}
	return nil
}

type componentHints struct {
	CPUModel             string
	RamGB                int
	RamType              string
	RamSpeedMHz          int
	RamModules           int
	PrimaryStorageGB     int
	PrimaryStorageType   string
	SecondaryStorageGB   int
	SecondaryStorageType string
}

func (h componentHints) ramProvided() bool {
	return h.RamGB > 0 || h.RamType != "" || h.RamSpeedMHz > 0 || h.RamModules > 0
}

// markPriceMissing records an absent price on both lifecycle fields; they
// are the single source of truth for completion and always move together.
func markPriceMissing(l *domain.Listing, status domain.FieldStatus) {
	l.Quality = domain.QualityPartial
	setFieldStatus(l, "price", status)
	if !slices.Contains(l.MissingFields, "price") {
		l.MissingFields = append(l.MissingFields, "price")
	}
}

func reconcileQuality(l *domain.Listing) {
	if l.PriceUSD == nil {
		l.Quality = domain.QualityPartial
		if !slices.Contains(l.MissingFields, "price") {
			l.MissingFields = append(l.MissingFields, "price")
		}
		return
	}
	if len(l.MissingFields) == 0 {
		l.Quality = domain.QualityFull
	}
}

func setFieldStatus(l *domain.Listing, field string, status domain.FieldStatus) {
	if l.ExtractionMetadata == nil {
		l.ExtractionMetadata = make(map[string]domain.FieldStatus)
	}
	l.ExtractionMetadata[field] = status
}

func removeField(fields []string, name string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != name {
			out = append(out, f)
		}
	}
	return out
}

func refreshDedupHash(l *domain.Listing) {
	seller := ""
	if l.Seller != nil {
		seller = *l.Seller
	}
	h := domain.ComputeDedupHash(l.Title, l.PriceUSD, seller, l.Marketplace, l.Condition)
	l.DedupHash = &h
}

func cloneForWrite(l *domain.Listing) *domain.Listing {
	out := *l
	out.MissingFields = slices.Clone(l.MissingFields)
	out.OtherURLs = slices.Clone(l.OtherURLs)
	if l.ExtractionMetadata != nil {
		out.ExtractionMetadata = maps.Clone(l.ExtractionMetadata)
	}
	if l.Attributes != nil {
		out.Attributes = maps.Clone(l.Attributes)
	}
	return &out
}

func listingLockKey(id int64) string {
	return fmt.Sprintf("listing:%d", id)
}

func dedupLockKey(hash string) string {
	return "dedup:" + hash
}
