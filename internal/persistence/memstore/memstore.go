// Package memstore implements the persistence contracts in memory. It backs
// package tests across the pipeline so services can be exercised without a
// database. Behavior follows the postgres implementation where it matters:
// point lookups return (nil, nil) on miss, writes surface apperr kinds, list
// queries honor keyset cursors.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// Store holds all in-memory tables behind one mutex.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Err, when set, is returned by every subsequent call. Tests use it to
	// simulate an unavailable database.
	Err error

	listings map[int64]*domain.Listing
	rulesets map[int64]*domain.Ruleset
	cpus     map[int64]*domain.CPU
	gpus     map[int64]*domain.GPU
	ramSpecs map[int64]*domain.RamSpec
	storage  map[int64]*domain.StorageProfile
	ports    map[int64]*domain.PortsProfile
	profile  *domain.ScoringProfile
	jobs     map[int64]*domain.ImportJob

	tasks     []domain.TaskRun
	snapshots []domain.ScoreSnapshot
	versions  []domain.RuleVersion
	audits    []domain.RuleAudit

	nextID map[string]int64
}

func New() *Store {
	return &Store{
		listings: map[int64]*domain.Listing{},
		rulesets: map[int64]*domain.Ruleset{},
		cpus:     map[int64]*domain.CPU{},
		gpus:     map[int64]*domain.GPU{},
		ramSpecs: map[int64]*domain.RamSpec{},
		storage:  map[int64]*domain.StorageProfile{},
		ports:    map[int64]*domain.PortsProfile{},
		jobs:     map[int64]*domain.ImportJob{},
		nextID:   map[string]int64{},
		locks:    map[string]*sync.Mutex{},
	}
}

// Repo returns the interface bundle backed by this store.
func (s *Store) Repo() *persistence.Repository {
	return &persistence.Repository{
		Listings:  &listingsRepo{s},
		Catalog:   &catalogRepo{s},
		Rules:     &rulesRepo{s},
		Imports:   &importsRepo{s},
		Snapshots: &snapshotsRepo{s},
	}
}

// WithTx satisfies persistence.UnitOfWork. There is no rollback emulation;
// fn mutates the live store.
func (s *Store) WithTx(_ context.Context, fn func(*persistence.Repository) error) error {
	if err := s.failing(); err != nil {
		return err
	}
	return fn(s.Repo())
}

// WithListingLock satisfies persistence.UnitOfWork. Callers on the same key
// are serialized like the postgres advisory lock; there is no rollback
// emulation.
func (s *Store) WithListingLock(_ context.Context, key string, fn func(*persistence.Repository) error) error {
	if err := s.failing(); err != nil {
		return err
	}
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return fn(s.Repo())
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) failing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

func (s *Store) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

// ---- seeding & inspection helpers ----

// SeedCPU inserts a CPU row and returns it with its assigned ID.
func (s *Store) SeedCPU(c domain.CPU) *domain.CPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id("cpu")
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.cpus[c.ID] = &c
	return cloneCPU(&c)
}

// SeedGPU inserts a GPU row.
func (s *Store) SeedGPU(g domain.GPU) *domain.GPU {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.id("gpu")
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	s.gpus[g.ID] = &g
	return cloneGPU(&g)
}

// SeedScoringProfile installs the default scoring profile.
func (s *Store) SeedScoringProfile(p domain.ScoringProfile) *domain.ScoringProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id("profile")
	p.IsDefault = true
	s.profile = &p
	out := p
	return &out
}

// SeedListing inserts a listing row directly, bypassing Insert validation.
func (s *Store) SeedListing(l domain.Listing) *domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id("listing")
	} else if l.ID > s.nextID["listing"] {
		s.nextID["listing"] = l.ID
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	if l.Status == "" {
		l.Status = domain.StatusActive
	}
	s.listings[l.ID] = &l
	return cloneListing(&l)
}

// SeedRuleset inserts a full ruleset tree, assigning IDs throughout.
func (s *Store) SeedRuleset(rs domain.Ruleset) *domain.Ruleset {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs.ID = s.id("ruleset")
	now := time.Now().UTC()
	rs.CreatedAt, rs.UpdatedAt = now, now
	for gi := range rs.Groups {
		g := &rs.Groups[gi]
		g.ID = s.id("rule_group")
		g.RulesetID = rs.ID
		for ri := range g.Rules {
			r := &g.Rules[ri]
			r.ID = s.id("rule")
			r.GroupID = g.ID
			if r.Version == 0 {
				r.Version = 1
			}
			for ci := range r.Conditions {
				r.Conditions[ci].ID = s.id("condition")
				r.Conditions[ci].RuleID = r.ID
			}
			for ai := range r.Actions {
				r.Actions[ai].ID = s.id("action")
				r.Actions[ai].RuleID = r.ID
			}
		}
	}
	s.rulesets[rs.ID] = &rs
	return cloneRuleset(&rs)
}

// Listing returns the stored row, or nil.
func (s *Store) Listing(id int64) *domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil
	}
	return cloneListing(l)
}

// Snapshots returns all stored score snapshot rows.
func (s *Store) Snapshots() []domain.ScoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScoreSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Audits returns all stored audit rows.
func (s *Store) Audits() []domain.RuleAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RuleAudit, len(s.audits))
	copy(out, s.audits)
	return out
}

// RuleVersions returns all stored rule version snapshots.
func (s *Store) RuleVersions() []domain.RuleVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RuleVersion, len(s.versions))
	copy(out, s.versions)
	return out
}

// Tasks returns all recorded task runs.
func (s *Store) Tasks() []domain.TaskRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TaskRun, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Rulesets returns all stored rulesets, deep-copied, ordered by ID.
func (s *Store) Rulesets() []domain.Ruleset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Ruleset, 0, len(s.rulesets))
	for _, rs := range s.rulesets {
		out = append(out, *cloneRuleset(rs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- clones ----
//
// Value copies keep tests from mutating stored rows through returned
// pointers. Nested maps stay shared; tests treat them as read-only.

func cloneListing(l *domain.Listing) *domain.Listing {
	c := *l
	if l.MissingFields != nil {
		c.MissingFields = append([]string(nil), l.MissingFields...)
	}
	if l.ExtractionMetadata != nil {
		c.ExtractionMetadata = make(map[string]domain.FieldStatus, len(l.ExtractionMetadata))
		for k, v := range l.ExtractionMetadata {
			c.ExtractionMetadata[k] = v
		}
	}
	if l.OtherURLs != nil {
		c.OtherURLs = append([]domain.SupplementalURL(nil), l.OtherURLs...)
	}
	return &c
}

func cloneCPU(c *domain.CPU) *domain.CPU                    { out := *c; return &out }
func cloneGPU(g *domain.GPU) *domain.GPU                    { out := *g; return &out }
func cloneRamSpec(r *domain.RamSpec) *domain.RamSpec        { out := *r; return &out }
func cloneStorage(p *domain.StorageProfile) *domain.StorageProfile {
	out := *p
	return &out
}

func cloneRuleset(rs *domain.Ruleset) *domain.Ruleset {
	c := *rs
	c.RootConditions = append([]domain.RuleCondition(nil), rs.RootConditions...)
	c.Groups = make([]domain.RuleGroup, len(rs.Groups))
	for i := range rs.Groups {
		g := rs.Groups[i]
		g.Rules = make([]domain.Rule, len(rs.Groups[i].Rules))
		for j := range rs.Groups[i].Rules {
			r := rs.Groups[i].Rules[j]
			r.Conditions = append([]domain.RuleCondition(nil), rs.Groups[i].Rules[j].Conditions...)
			r.Actions = append([]domain.RuleAction(nil), rs.Groups[i].Rules[j].Actions...)
			g.Rules[j] = r
		}
		c.Groups[i] = g
	}
	return &c
}

// ---- listings ----

type listingsRepo struct{ s *Store }

func (r *listingsRepo) Insert(_ context.Context, l *domain.Listing) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if l.VendorItemID != nil && *l.VendorItemID != "" {
		for _, other := range s.listings {
			if other.VendorItemID != nil && *other.VendorItemID == *l.VendorItemID && other.Marketplace == l.Marketplace {
				return apperr.Conflict("listing (%s, %s) already exists", l.Marketplace, *l.VendorItemID)
			}
		}
	}
	l.ID = s.id("listing")
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	s.listings[l.ID] = cloneListing(l)
	return nil
}

func (r *listingsRepo) Update(_ context.Context, l *domain.Listing) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	stored, ok := s.listings[l.ID]
	if !ok {
		return apperr.NotFound("listing %d not found", l.ID)
	}
	l.CreatedAt = stored.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	s.listings[l.ID] = cloneListing(l)
	return nil
}

func (r *listingsRepo) Get(_ context.Context, id int64) (*domain.Listing, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	return cloneListing(l), nil
}

func (r *listingsRepo) FindByVendorItem(_ context.Context, m domain.Marketplace, vendorItemID string) (*domain.Listing, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var best *domain.Listing
	for _, l := range s.listings {
		if l.Marketplace == m && l.VendorItemID != nil && *l.VendorItemID == vendorItemID {
			if best == nil || l.ID < best.ID {
				best = l
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneListing(best), nil
}

func (r *listingsRepo) FindByDedupHash(_ context.Context, hash string) (*domain.Listing, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var best *domain.Listing
	for _, l := range s.listings {
		if l.DedupHash != nil && *l.DedupHash == hash {
			if best == nil || l.ID < best.ID {
				best = l
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneListing(best), nil
}

func (r *listingsRepo) List(_ context.Context, q persistence.ListingQuery) ([]domain.Listing, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}

	var rows []*domain.Listing
	for _, l := range s.listings {
		if matchesFilter(l, q.Filter) {
			rows = append(rows, l)
		}
	}

	keys := make(map[int64]sortKey, len(rows))
	for _, l := range rows {
		k, err := listingSortKey(l, q.SortBy)
		if err != nil {
			return nil, false, err
		}
		keys[l.ID] = k
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := keys[rows[i].ID], keys[rows[j].ID]
		c := a.compare(b)
		if c == 0 {
			c = compareInt64(rows[i].ID, rows[j].ID)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.AfterID != nil && q.AfterSort != nil {
		cursor, err := parseSortValue(q.SortBy, *q.AfterSort)
		if err != nil {
			return nil, false, err
		}
		filtered := rows[:0]
		for _, l := range rows {
			c := keys[l.ID].compare(cursor)
			if c == 0 {
				c = compareInt64(l.ID, *q.AfterID)
			}
			if (q.Desc && c < 0) || (!q.Desc && c > 0) {
				filtered = append(filtered, l)
			}
		}
		rows = filtered
	}

	hasNext := len(rows) > q.Limit
	if hasNext {
		rows = rows[:q.Limit]
	}
	out := make([]domain.Listing, len(rows))
	for i, l := range rows {
		out[i] = *cloneListing(l)
	}
	return out, hasNext, nil
}

func (r *listingsRepo) Count(_ context.Context, f persistence.ListingFilter) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, l := range s.listings {
		if matchesFilter(l, f) {
			n++
		}
	}
	return n, nil
}

func (r *listingsRepo) ApplyValuation(_ context.Context, id int64, v persistence.ValuationUpdate) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	l, ok := s.listings[id]
	if !ok {
		return apperr.NotFound("listing %d not found", id)
	}
	l.RulesetID = v.RulesetID
	l.AdjustedPriceUSD = v.AdjustedPriceUSD
	l.ValuationBreakdown = v.ValuationBreakdown
	v.Metrics.ApplyTo(l)
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *listingsRepo) ClearMetrics(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	l, ok := s.listings[id]
	if !ok {
		return apperr.NotFound("listing %d not found", id)
	}
	l.AdjustedPriceUSD = nil
	l.ValuationBreakdown = nil
	domain.MetricSet{}.ApplyTo(l)
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *listingsRepo) TouchLastSeen(_ context.Context, id int64, ts time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	l, ok := s.listings[id]
	if !ok {
		return apperr.NotFound("listing %d not found", id)
	}
	l.LastSeenAt = &ts
	return nil
}

func (r *listingsRepo) Delete(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.listings[id]; !ok {
		return apperr.NotFound("listing %d not found", id)
	}
	delete(s.listings, id)
	kept := s.snapshots[:0]
	for _, snap := range s.snapshots {
		if snap.ListingID != id {
			kept = append(kept, snap)
		}
	}
	s.snapshots = kept
	return nil
}

func (r *listingsRepo) IDsWithRuleset(_ context.Context, rulesetID int64) ([]int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []int64
	for _, l := range s.listings {
		if l.RulesetID != nil && *l.RulesetID == rulesetID {
			ids = append(ids, l.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *listingsRepo) ActiveIDs(_ context.Context) ([]int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []int64
	for _, l := range s.listings {
		if l.Status == domain.StatusActive {
			ids = append(ids, l.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func matchesFilter(l *domain.Listing, f persistence.ListingFilter) bool {
	if f.Status != nil && l.Status != *f.Status {
		return false
	}
	if f.Marketplace != nil && l.Marketplace != *f.Marketplace {
		return false
	}
	if f.Quality != nil && l.Quality != *f.Quality {
		return false
	}
	if f.Manufacturer != nil {
		if l.Manufacturer == nil || !strings.EqualFold(*l.Manufacturer, *f.Manufacturer) {
			return false
		}
	}
	if f.MinPriceUSD != nil {
		if l.PriceUSD == nil || l.PriceUSD.LessThan(*f.MinPriceUSD) {
			return false
		}
	}
	if f.MaxPriceUSD != nil {
		if l.PriceUSD == nil || l.PriceUSD.GreaterThan(*f.MaxPriceUSD) {
			return false
		}
	}
	return true
}

// sortKey is a comparable projection of one sort column value.
type sortKey struct {
	num   float64
	str   string
	isNum bool
}

func (k sortKey) compare(o sortKey) int {
	if k.isNum && o.isNum {
		switch {
		case k.num < o.num:
			return -1
		case k.num > o.num:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(k.str, o.str)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func listingSortKey(l *domain.Listing, col string) (sortKey, error) {
	switch col {
	case "id":
		return sortKey{num: float64(l.ID), isNum: true}, nil
	case "price_usd":
		if l.PriceUSD == nil {
			return sortKey{isNum: true}, nil
		}
		return sortKey{num: l.PriceUSD.InexactFloat64(), isNum: true}, nil
	case "adjusted_price_usd":
		if l.AdjustedPriceUSD == nil {
			return sortKey{isNum: true}, nil
		}
		return sortKey{num: l.AdjustedPriceUSD.InexactFloat64(), isNum: true}, nil
	case "ram_gb":
		return sortKey{num: float64(l.RamGB), isNum: true}, nil
	case "score_composite":
		if l.ScoreComposite == nil {
			return sortKey{isNum: true}, nil
		}
		return sortKey{num: *l.ScoreComposite, isNum: true}, nil
	case "created_at":
		return sortKey{num: float64(l.CreatedAt.UnixNano()), isNum: true}, nil
	case "updated_at":
		return sortKey{num: float64(l.UpdatedAt.UnixNano()), isNum: true}, nil
	case "title":
		return sortKey{str: strings.ToLower(l.Title)}, nil
	default:
		return sortKey{}, apperr.Validation("invalid sort column %q", col)
	}
}

func parseSortValue(col, raw string) (sortKey, error) {
	switch col {
	case "created_at", "updated_at":
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return sortKey{}, apperr.Validation("invalid cursor sort value %q", raw)
		}
		return sortKey{num: float64(ts.UnixNano()), isNum: true}, nil
	case "title":
		return sortKey{str: strings.ToLower(raw)}, nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return sortKey{}, apperr.Validation("invalid cursor sort value %q", raw)
		}
		return sortKey{num: f, isNum: true}, nil
	}
}

// ---- catalog ----

type catalogRepo struct{ s *Store }

func (r *catalogRepo) GetCPU(_ context.Context, id int64) (*domain.CPU, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.cpus[id]
	if !ok {
		return nil, nil
	}
	return cloneCPU(c), nil
}

func (r *catalogRepo) FindCPUByName(_ context.Context, name string) (*domain.CPU, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, c := range s.cpus {
		if strings.EqualFold(c.Name, name) {
			return cloneCPU(c), nil
		}
	}
	return nil, nil
}

func (r *catalogRepo) GetOrCreateCPU(_ context.Context, c domain.CPU) (*domain.CPU, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, existing := range s.cpus {
		if strings.EqualFold(existing.Name, c.Name) {
			return cloneCPU(existing), nil
		}
	}
	c.ID = s.id("cpu")
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.cpus[c.ID] = &c
	return cloneCPU(&c), nil
}

func (r *catalogRepo) GetGPU(_ context.Context, id int64) (*domain.GPU, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	g, ok := s.gpus[id]
	if !ok {
		return nil, nil
	}
	return cloneGPU(g), nil
}

func (r *catalogRepo) GetRamSpec(_ context.Context, id int64) (*domain.RamSpec, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	spec, ok := s.ramSpecs[id]
	if !ok {
		return nil, nil
	}
	return cloneRamSpec(spec), nil
}

func (r *catalogRepo) GetOrCreateRamSpec(_ context.Context, spec domain.RamSpec) (*domain.RamSpec, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, existing := range s.ramSpecs {
		if existing.Key() == spec.Key() {
			return cloneRamSpec(existing), nil
		}
	}
	spec.ID = s.id("ram_spec")
	now := time.Now().UTC()
	spec.CreatedAt, spec.UpdatedAt = now, now
	s.ramSpecs[spec.ID] = &spec
	return cloneRamSpec(&spec), nil
}

func (r *catalogRepo) GetStorageProfile(_ context.Context, id int64) (*domain.StorageProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.storage[id]
	if !ok {
		return nil, nil
	}
	return cloneStorage(p), nil
}

func (r *catalogRepo) GetOrCreateStorageProfile(_ context.Context, p domain.StorageProfile) (*domain.StorageProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, existing := range s.storage {
		if existing.Key() == p.Key() {
			return cloneStorage(existing), nil
		}
	}
	p.ID = s.id("storage_profile")
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.storage[p.ID] = &p
	return cloneStorage(&p), nil
}

func (r *catalogRepo) GetPortsProfile(_ context.Context, id int64) (*domain.PortsProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.ports[id]
	if !ok {
		return nil, nil
	}
	out := *p
	out.Ports = append([]domain.Port(nil), p.Ports...)
	return &out, nil
}

func (r *catalogRepo) DefaultScoringProfile(_ context.Context) (*domain.ScoringProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.profile == nil {
		return nil, nil
	}
	out := *s.profile
	return &out, nil
}

// ---- rules ----

type rulesRepo struct{ s *Store }

func (r *rulesRepo) GetRuleset(_ context.Context, id int64) (*domain.Ruleset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rs, ok := s.rulesets[id]
	if !ok {
		return nil, nil
	}
	return cloneRuleset(rs), nil
}

func (r *rulesRepo) ActiveRulesets(_ context.Context) ([]domain.Ruleset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Ruleset
	for _, rs := range s.rulesets {
		if rs.IsActive {
			out = append(out, *cloneRuleset(rs))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *rulesRepo) FindRulesetBySourceHash(_ context.Context, hash string) (*domain.Ruleset, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, rs := range s.rulesets {
		if rs.SourceHash() == hash {
			header := *rs
			header.Groups = nil
			return &header, nil
		}
	}
	return nil, nil
}

func (r *rulesRepo) CreateRuleset(_ context.Context, rs *domain.Ruleset) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	rs.ID = s.id("ruleset")
	now := time.Now().UTC()
	rs.CreatedAt, rs.UpdatedAt = now, now
	s.rulesets[rs.ID] = cloneRuleset(rs)
	return nil
}

func (r *rulesRepo) CreateGroup(_ context.Context, g *domain.RuleGroup) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	rs, ok := s.rulesets[g.RulesetID]
	if !ok {
		return apperr.NotFound("ruleset %d not found", g.RulesetID)
	}
	g.ID = s.id("rule_group")
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	stored := *g
	stored.Rules = nil
	rs.Groups = append(rs.Groups, stored)
	return nil
}

func (r *rulesRepo) CreateRule(_ context.Context, rule *domain.Rule) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	g := s.findGroup(rule.GroupID)
	if g == nil {
		return apperr.NotFound("rule group %d not found", rule.GroupID)
	}
	rule.ID = s.id("rule")
	if rule.Version == 0 {
		rule.Version = 1
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	for ci := range rule.Conditions {
		rule.Conditions[ci].ID = s.id("condition")
		rule.Conditions[ci].RuleID = rule.ID
	}
	for ai := range rule.Actions {
		rule.Actions[ai].ID = s.id("action")
		rule.Actions[ai].RuleID = rule.ID
	}
	stored := *rule
	stored.Conditions = append([]domain.RuleCondition(nil), rule.Conditions...)
	stored.Actions = append([]domain.RuleAction(nil), rule.Actions...)
	g.Rules = append(g.Rules, stored)
	return nil
}

func (r *rulesRepo) UpdateRuleStatus(_ context.Context, ruleID int64, isActive bool, metadata map[string]any) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	rule := s.findRule(ruleID)
	if rule == nil {
		return 0, apperr.NotFound("rule %d not found", ruleID)
	}
	rule.IsActive = isActive
	rule.Metadata = metadata
	rule.Version++
	rule.UpdatedAt = time.Now().UTC()
	return rule.Version, nil
}

func (r *rulesRepo) UpdateRulesetActivation(_ context.Context, id int64, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	rs, ok := s.rulesets[id]
	if !ok {
		return apperr.NotFound("ruleset %d not found", id)
	}
	rs.IsActive = active
	rs.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *rulesRepo) DeactivateSystemBaselines(_ context.Context, exceptID int64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, rs := range s.rulesets {
		if rs.ID != exceptID && rs.IsActive && rs.IsSystemBaseline() {
			rs.IsActive = false
			rs.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (r *rulesRepo) EnsureGroup(_ context.Context, rulesetID int64, name, category string, metadata map[string]any) (*domain.RuleGroup, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rs, ok := s.rulesets[rulesetID]
	if !ok {
		return nil, apperr.NotFound("ruleset %d not found", rulesetID)
	}
	for i := range rs.Groups {
		if rs.Groups[i].Name == name {
			out := rs.Groups[i]
			out.Rules = nil
			return &out, nil
		}
	}
	g := domain.RuleGroup{
		ID:           s.id("rule_group"),
		RulesetID:    rulesetID,
		Name:         name,
		Category:     category,
		DisplayOrder: len(rs.Groups),
		Metadata:     metadata,
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	rs.Groups = append(rs.Groups, g)
	out := g
	return &out, nil
}

func (r *rulesRepo) SaveRuleVersion(_ context.Context, v *domain.RuleVersion) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	v.ID = s.id("rule_version")
	v.CreatedAt = time.Now().UTC()
	s.versions = append(s.versions, *v)
	return nil
}

func (r *rulesRepo) AppendAudit(_ context.Context, a *domain.RuleAudit) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	a.ID = s.id("rule_audit")
	a.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, *a)
	return nil
}

func (s *Store) findGroup(id int64) *domain.RuleGroup {
	for _, rs := range s.rulesets {
		for i := range rs.Groups {
			if rs.Groups[i].ID == id {
				return &rs.Groups[i]
			}
		}
	}
	return nil
}

func (s *Store) findRule(id int64) *domain.Rule {
	for _, rs := range s.rulesets {
		for gi := range rs.Groups {
			for ri := range rs.Groups[gi].Rules {
				if rs.Groups[gi].Rules[ri].ID == id {
					return &rs.Groups[gi].Rules[ri]
				}
			}
		}
	}
	return nil
}

// ---- imports ----

type importsRepo struct{ s *Store }

func (r *importsRepo) CreateJob(_ context.Context, j *domain.ImportJob) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	j.ID = s.id("import_job")
	if j.Status == "" {
		j.Status = domain.ImportPending
	}
	j.CreatedAt = time.Now().UTC()
	copied := *j
	s.jobs[j.ID] = &copied
	return nil
}

func (r *importsRepo) StartJob(_ context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("import job %d not found", id)
	}
	now := time.Now().UTC()
	j.Status = domain.ImportRunning
	j.StartedAt = &now
	return nil
}

func (r *importsRepo) CompleteJob(_ context.Context, j *domain.ImportJob) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	stored, ok := s.jobs[j.ID]
	if !ok {
		return apperr.NotFound("import job %d not found", j.ID)
	}
	now := time.Now().UTC()
	stored.Status = j.Status
	stored.ListingsCreated = j.ListingsCreated
	stored.ListingsUpdated = j.ListingsUpdated
	stored.Failed = j.Failed
	stored.Error = j.Error
	stored.CompletedAt = &now
	j.CompletedAt = &now
	return nil
}

func (r *importsRepo) GetJob(_ context.Context, id int64) (*domain.ImportJob, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (r *importsRepo) RecordTaskRun(_ context.Context, t *domain.TaskRun) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	t.ID = s.id("task_run")
	s.tasks = append(s.tasks, *t)
	return nil
}

// ---- snapshots ----

type snapshotsRepo struct{ s *Store }

func (r *snapshotsRepo) Insert(_ context.Context, snap *domain.ScoreSnapshot) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	snap.ID = s.id("snapshot")
	snap.CreatedAt = time.Now().UTC()
	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (r *snapshotsRepo) ListForListing(_ context.Context, listingID int64, limit int) ([]domain.ScoreSnapshot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.ScoreSnapshot
	for i := len(s.snapshots) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.snapshots[i].ListingID == listingID {
			out = append(out, s.snapshots[i])
		}
	}
	return out, nil
}
