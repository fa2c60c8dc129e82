package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ListingView bundles a listing with its resolved components so rule
// conditions and formulas can walk dotted paths like "cpu.cpu_mark_multi"
// without holding parent pointers inside child values.
type ListingView struct {
	Listing          *Listing
	CPU              *CPU
	GPU              *GPU
	RamSpec          *RamSpec
	PrimaryStorage   *StorageProfile
	SecondaryStorage *StorageProfile
}

// Resolve walks a dotted field path against the view. Unknown paths and nil
// intermediates return (nil, false), never an error; callers treat that as a
// null field.
func (v *ListingView) Resolve(path string) (any, bool) {
	if v == nil || v.Listing == nil {
		return nil, false
	}
	root, rest, nested := strings.Cut(strings.TrimSpace(path), ".")
	if !nested {
		return v.listingField(root)
	}
	switch root {
	case "listing":
		return v.Resolve(rest)
	case "attributes":
		if v.Listing.Attributes == nil {
			return nil, false
		}
		val, ok := v.Listing.Attributes[rest]
		return val, ok
	case "cpu":
		return cpuField(v.CPU, rest)
	case "gpu":
		return gpuField(v.GPU, rest)
	case "ram_spec":
		return ramSpecField(v.RamSpec, rest)
	case "primary_storage", "storage_profile":
		return storageField(v.PrimaryStorage, rest)
	case "secondary_storage":
		return storageField(v.SecondaryStorage, rest)
	default:
		return nil, false
	}
}

// NumericValue resolves a path and coerces it to float64. Missing or
// non-numeric values return (0, false).
func (v *ListingView) NumericValue(path string) (float64, bool) {
	val, ok := v.Resolve(path)
	if !ok {
		return 0, false
	}
	return CoerceNumber(val)
}

func (v *ListingView) listingField(name string) (any, bool) {
	l := v.Listing
	switch name {
	case "title":
		return l.Title, true
	case "listing_url":
		return l.ListingURL, true
	case "seller":
		return strPtr(l.Seller)
	case "price_usd", "price":
		return decPtr(l.PriceUSD)
	case "adjusted_price_usd":
		return decPtr(l.AdjustedPriceUSD)
	case "condition":
		return string(l.Condition), true
	case "status":
		return string(l.Status), true
	case "marketplace":
		return string(l.Marketplace), true
	case "vendor_item_id":
		return strPtr(l.VendorItemID)
	case "quality":
		return string(l.Quality), true
	case "ram_gb", "ram_capacity_gb":
		return l.RamGB, true
	case "primary_storage_gb":
		return l.PrimaryStorageGB, true
	case "primary_storage_type":
		return strPtr(l.PrimaryStorageType)
	case "secondary_storage_gb":
		return l.SecondaryStorageGB, true
	case "secondary_storage_type":
		return strPtr(l.SecondaryStorageType)
	case "manufacturer":
		return strPtr(l.Manufacturer)
	case "series":
		return strPtr(l.Series)
	case "model_number":
		return strPtr(l.ModelNumber)
	case "notes":
		return strPtr(l.Notes)
	case "ruleset_id":
		return intPtr(l.RulesetID)
	case "cpu_id":
		return intPtr(l.CPUID)
	case "gpu_id":
		return intPtr(l.GPUID)
	case "score_composite":
		return floatPtr(l.ScoreComposite)
	case "perf_per_watt":
		return floatPtr(l.PerfPerWatt)
	case "dollar_per_cpu_mark":
		return floatPtr(l.DollarPerCPUMark)
	case "dollar_per_cpu_mark_single":
		return floatPtr(l.DollarPerCPUMarkSingle)
	case "dollar_per_cpu_mark_multi":
		return floatPtr(l.DollarPerCPUMarkMulti)
	default:
		if l.Attributes != nil {
			if val, ok := l.Attributes[name]; ok {
				return val, true
			}
		}
		return nil, false
	}
}

func cpuField(c *CPU, name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	switch name {
	case "name":
		return c.Name, true
	case "manufacturer":
		return c.Manufacturer, true
	case "cores":
		return c.Cores, true
	case "threads":
		return c.Threads, true
	case "tdp_w", "tdp":
		return c.TDPWatts, true
	case "cpu_mark_single":
		return c.CPUMarkSingle, true
	case "cpu_mark_multi":
		return c.CPUMarkMulti, true
	case "igpu_mark":
		return c.IGPUMark, true
	default:
		return nil, false
	}
}

func gpuField(g *GPU, name string) (any, bool) {
	if g == nil {
		return nil, false
	}
	switch name {
	case "name":
		return g.Name, true
	case "manufacturer":
		return g.Manufacturer, true
	case "gpu_mark":
		return g.GPUMark, true
	case "metal_score":
		return g.MetalScore, true
	default:
		return nil, false
	}
}

func ramSpecField(r *RamSpec, name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	switch name {
	case "ddr_generation":
		return string(r.DDRGeneration), true
	case "speed_mhz":
		return r.SpeedMHz, true
	case "module_count":
		return r.ModuleCount, true
	case "capacity_per_module_gb":
		return r.CapacityPerModuleGB, true
	case "total_capacity_gb":
		return r.TotalCapacityGB, true
	case "label":
		return r.Label(), true
	default:
		return nil, false
	}
}

func storageField(s *StorageProfile, name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	switch name {
	case "medium":
		return string(s.Medium), true
	case "interface":
		return s.Interface, true
	case "form_factor":
		return s.FormFactor, true
	case "capacity_gb":
		return s.CapacityGB, true
	case "performance_tier":
		return s.PerformanceTier, true
	default:
		return nil, false
	}
}

// CoerceNumber converts any JSON-ish scalar to float64. Strings are parsed,
// decimals unwrapped. Returns false when no numeric reading exists.
func CoerceNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	case *decimal.Decimal:
		if x == nil {
			return 0, false
		}
		f, _ := x.Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func strPtr(p *string) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func intPtr(p *int64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func floatPtr(p *float64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func decPtr(p *decimal.Decimal) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
