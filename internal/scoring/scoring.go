// Package scoring derives the price-efficiency and performance metrics
// persisted on a priced listing: dollars-per-benchmark-mark ratios, perf per
// watt, the GPU score blend, and the weighted composite. All functions are
// pure; missing inputs skip the affected metric instead of erroring.
package scoring

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// Compute builds the full metric vector. totalAdjustment is the signed sum of
// rule deltas from the valuation breakdown (zero when no ruleset applied);
// adjustedPrice is the post-rule price. Metrics whose benchmark is missing or
// zero stay nil rather than going infinite.
//
// The adjusted ratios divide (price − totalAdjustment), not adjustedPrice:
// the historical convention keeps deductions raising the adjusted basis, and
// consumers depend on it.
func Compute(l *domain.Listing, cpu *domain.CPU, gpu *domain.GPU, profile *domain.ScoringProfile, totalAdjustment, adjustedPrice decimal.Decimal) domain.MetricSet {
	var m domain.MetricSet
	if l == nil || l.PriceUSD == nil {
		return m
	}
	price := l.PriceUSD.InexactFloat64()
	adjustedBase := price - totalAdjustment.InexactFloat64()
	adjPrice := adjustedPrice.InexactFloat64()

	if cpu != nil {
		if cpu.CPUMarkSingle > 0 {
			m.ScoreCPUSingle = ptr(cpu.CPUMarkSingle)
			m.DollarPerCPUMarkSingle = ptr(price / cpu.CPUMarkSingle)
			m.DollarPerCPUMarkSingleAdjusted = ptr(adjustedBase / cpu.CPUMarkSingle)
			m.DollarPerSingleMark = ptr(adjPrice / cpu.CPUMarkSingle)
		}
		if cpu.CPUMarkMulti > 0 {
			m.ScoreCPUMulti = ptr(cpu.CPUMarkMulti)
			m.DollarPerCPUMarkMulti = ptr(price / cpu.CPUMarkMulti)
			m.DollarPerCPUMarkMultiAdjusted = ptr(adjustedBase / cpu.CPUMarkMulti)
			m.DollarPerCPUMark = ptr(adjPrice / cpu.CPUMarkMulti)
			if cpu.TDPWatts > 0 {
				m.PerfPerWatt = ptr(cpu.CPUMarkMulti / float64(cpu.TDPWatts))
			}
		}
	}

	if gs := GPUScore(gpu, cpu); gs > 0 {
		m.ScoreGPU = ptr(gs)
	}

	m.ScoreComposite = Composite(profile, componentVector(l, cpu, m))
	return m
}

// GPUScore resolves the blend inputs from catalog rows. Either argument may
// be nil.
func GPUScore(gpu *domain.GPU, cpu *domain.CPU) float64 {
	if gpu == nil {
		return 0
	}
	isApple := cpu != nil && strings.EqualFold(cpu.Manufacturer, "apple")
	return ComputeGPUScore(gpu.GPUMark, gpu.MetalScore, isApple)
}

// ComputeGPUScore blends PassMark and Metal benchmarks. Apple silicon favors
// the Metal score (60/40 when both exist, Metal alone otherwise); everything
// else uses the PassMark score, falling back to Metal when PassMark is
// missing.
func ComputeGPUScore(gpuMark, metalScore float64, isApple bool) float64 {
	if isApple && metalScore > 0 {
		if gpuMark > 0 {
			return 0.6*metalScore + 0.4*gpuMark
		}
		return metalScore
	}
	if gpuMark > 0 {
		return gpuMark
	}
	return metalScore
}

// Composite applies a scoring profile's weights over the component vector.
// Missing components contribute 0; a nil or empty profile yields nil.
func Composite(profile *domain.ScoringProfile, components map[string]float64) *float64 {
	if profile == nil || len(profile.Weights) == 0 {
		return nil
	}
	var sum float64
	for name, w := range profile.Weights {
		sum += w * components[name]
	}
	return &sum
}

func componentVector(l *domain.Listing, cpu *domain.CPU, m domain.MetricSet) map[string]float64 {
	vec := map[string]float64{
		"ram_gb": float64(l.RamGB),
	}
	if cpu != nil {
		vec["cpu_mark_multi"] = cpu.CPUMarkMulti
		vec["cpu_mark_single"] = cpu.CPUMarkSingle
	}
	if m.ScoreGPU != nil {
		vec["gpu_score"] = *m.ScoreGPU
	}
	if m.PerfPerWatt != nil {
		vec["perf_per_watt"] = *m.PerfPerWatt
	}
	return vec
}

func ptr(v float64) *float64 { return &v }
