package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// catalogRepo implements persistence.CatalogRepo on PostgreSQL. Get-or-create
// methods lean on ON CONFLICT DO UPDATE RETURNING so concurrent callers
// always converge on one canonical row.
type catalogRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewCatalogRepo creates a PostgreSQL catalog repository.
func NewCatalogRepo(db sqlx.ExtContext, timeout time.Duration) persistence.CatalogRepo {
	return &catalogRepo{db: db, timeout: timeout}
}

const cpuColumns = `
	id, name, manufacturer, cores, threads, tdp_w, cpu_mark_single,
	cpu_mark_multi, igpu_mark, created_at, updated_at`

func (r *catalogRepo) GetCPU(ctx context.Context, id int64) (*domain.CPU, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var c domain.CPU
	err := sqlx.GetContext(ctx, r.db, &c, `SELECT`+cpuColumns+` FROM cpu WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get cpu", err)
	}
	return &c, nil
}

func (r *catalogRepo) FindCPUByName(ctx context.Context, name string) (*domain.CPU, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var c domain.CPU
	err := sqlx.GetContext(ctx, r.db, &c, `SELECT`+cpuColumns+` FROM cpu WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("find cpu by name", err)
	}
	return &c, nil
}

// GetOrCreateCPU returns the catalog row for the CPU name, inserting a stub
// with the provided attributes when absent. An existing row keeps its stored
// benchmarks.
func (r *catalogRepo) GetOrCreateCPU(ctx context.Context, c domain.CPU) (*domain.CPU, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO cpu (name, manufacturer, cores, threads, tdp_w,
			cpu_mark_single, cpu_mark_multi, igpu_mark)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET updated_at = now()
		RETURNING` + cpuColumns

	var out domain.CPU
	err := sqlx.GetContext(ctx, r.db, &out, query,
		c.Name, c.Manufacturer, c.Cores, c.Threads, c.TDPWatts,
		c.CPUMarkSingle, c.CPUMarkMulti, c.IGPUMark)
	if err != nil {
		return nil, mapErr("get or create cpu", err)
	}
	return &out, nil
}

func (r *catalogRepo) GetGPU(ctx context.Context, id int64) (*domain.GPU, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var g domain.GPU
	err := sqlx.GetContext(ctx, r.db, &g,
		`SELECT id, name, manufacturer, gpu_mark, metal_score, created_at, updated_at
		 FROM gpu WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get gpu", err)
	}
	return &g, nil
}

const ramSpecColumns = `
	id, ddr_generation, speed_mhz, module_count, capacity_per_module_gb,
	total_capacity_gb, attributes, created_at, updated_at`

// ramSpecRow wraps the domain struct with the raw attributes column.
type ramSpecRow struct {
	domain.RamSpec
	AttributesJSON []byte `db:"attributes"`
}

func (r *ramSpecRow) toDomain() (*domain.RamSpec, error) {
	s := r.RamSpec
	var err error
	if s.Attributes, err = unmarshalMap("ram_spec", r.AttributesJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *catalogRepo) GetRamSpec(ctx context.Context, id int64) (*domain.RamSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row ramSpecRow
	err := sqlx.GetContext(ctx, r.db, &row, `SELECT`+ramSpecColumns+` FROM ram_spec WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get ram spec", err)
	}
	return row.toDomain()
}

// GetOrCreateRamSpec canonicalizes on the full identity tuple.
func (r *catalogRepo) GetOrCreateRamSpec(ctx context.Context, s domain.RamSpec) (*domain.RamSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attrs, err := marshalMap("ram_spec", s.Attributes)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ram_spec (ddr_generation, speed_mhz, module_count,
			capacity_per_module_gb, total_capacity_gb, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ddr_generation, speed_mhz, module_count,
			capacity_per_module_gb, total_capacity_gb)
		DO UPDATE SET updated_at = now()
		RETURNING` + ramSpecColumns

	var row ramSpecRow
	err = sqlx.GetContext(ctx, r.db, &row, query,
		s.DDRGeneration, s.SpeedMHz, s.ModuleCount, s.CapacityPerModuleGB,
		s.TotalCapacityGB, attrs)
	if err != nil {
		return nil, mapErr("get or create ram spec", err)
	}
	return row.toDomain()
}

const storageProfileColumns = `
	id, medium, interface, form_factor, capacity_gb, performance_tier,
	created_at, updated_at`

func (r *catalogRepo) GetStorageProfile(ctx context.Context, id int64) (*domain.StorageProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p domain.StorageProfile
	err := sqlx.GetContext(ctx, r.db, &p,
		`SELECT`+storageProfileColumns+` FROM storage_profile WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get storage profile", err)
	}
	return &p, nil
}

// GetOrCreateStorageProfile canonicalizes on the full identity tuple.
func (r *catalogRepo) GetOrCreateStorageProfile(ctx context.Context, p domain.StorageProfile) (*domain.StorageProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO storage_profile (medium, interface, form_factor,
			capacity_gb, performance_tier)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (medium, interface, form_factor, capacity_gb, performance_tier)
		DO UPDATE SET updated_at = now()
		RETURNING` + storageProfileColumns

	var out domain.StorageProfile
	err := sqlx.GetContext(ctx, r.db, &out, query,
		p.Medium, p.Interface, p.FormFactor, p.CapacityGB, p.PerformanceTier)
	if err != nil {
		return nil, mapErr("get or create storage profile", err)
	}
	return &out, nil
}

func (r *catalogRepo) GetPortsProfile(ctx context.Context, id int64) (*domain.PortsProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p domain.PortsProfile
	err := sqlx.GetContext(ctx, r.db, &p,
		`SELECT id, name, created_at, updated_at FROM ports_profile WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("get ports profile", err)
	}

	err = sqlx.SelectContext(ctx, r.db, &p.Ports,
		`SELECT id, ports_profile_id, port_type, count, spec_notes
		 FROM port WHERE ports_profile_id = $1 ORDER BY port_type`, id)
	if err != nil {
		return nil, mapErr("get ports profile ports", err)
	}
	return &p, nil
}

// scoringProfileRow wraps the domain struct with the raw weights column.
type scoringProfileRow struct {
	domain.ScoringProfile
	WeightsJSON []byte `db:"weights"`
}

func (r *scoringProfileRow) toDomain() (*domain.ScoringProfile, error) {
	p := r.ScoringProfile
	if len(r.WeightsJSON) > 0 {
		if err := json.Unmarshal(r.WeightsJSON, &p.Weights); err != nil {
			return nil, fmt.Errorf("profile: unmarshal weights: %w", err)
		}
	}
	return &p, nil
}

func (r *catalogRepo) DefaultScoringProfile(ctx context.Context) (*domain.ScoringProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row scoringProfileRow
	err := sqlx.GetContext(ctx, r.db, &row,
		`SELECT id, name, weights, is_default, created_at, updated_at
		 FROM profile WHERE is_default ORDER BY id LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("default scoring profile", err)
	}
	return row.toDomain()
}
