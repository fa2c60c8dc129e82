package valuation

import (
	"context"
	"fmt"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// LoadView resolves a listing's component references into a ListingView so
// conditions, formulas, and metrics can walk dotted paths. Missing component
// rows are tolerated: the view field stays nil and resolves as null.
func LoadView(ctx context.Context, cat persistence.CatalogRepo, l *domain.Listing) (*domain.ListingView, error) {
	view := &domain.ListingView{Listing: l}

	if l.CPUID != nil {
		cpu, err := cat.GetCPU(ctx, *l.CPUID)
		if err != nil {
			return nil, fmt.Errorf("load cpu %d: %w", *l.CPUID, err)
		}
		view.CPU = cpu
	}
	if l.GPUID != nil {
		gpu, err := cat.GetGPU(ctx, *l.GPUID)
		if err != nil {
			return nil, fmt.Errorf("load gpu %d: %w", *l.GPUID, err)
		}
		view.GPU = gpu
	}
	if l.RamSpecID != nil {
		spec, err := cat.GetRamSpec(ctx, *l.RamSpecID)
		if err != nil {
			return nil, fmt.Errorf("load ram spec %d: %w", *l.RamSpecID, err)
		}
		view.RamSpec = spec
	}
	if l.PrimaryStorageProfileID != nil {
		p, err := cat.GetStorageProfile(ctx, *l.PrimaryStorageProfileID)
		if err != nil {
			return nil, fmt.Errorf("load primary storage %d: %w", *l.PrimaryStorageProfileID, err)
		}
		view.PrimaryStorage = p
	}
	if l.SecondaryStorageProfileID != nil {
		p, err := cat.GetStorageProfile(ctx, *l.SecondaryStorageProfileID)
		if err != nil {
			return nil, fmt.Errorf("load secondary storage %d: %w", *l.SecondaryStorageProfileID, err)
		}
		view.SecondaryStorage = p
	}
	return view, nil
}
