package domain

// MetricSet is the full derived-metric vector persisted on a listing after a
// valuation pass. Nil entries mean the metric could not be computed (missing
// benchmark, missing price) and are stored as NULL.
type MetricSet struct {
	DollarPerCPUMark               *float64 `json:"dollar_per_cpu_mark,omitempty"`
	DollarPerSingleMark            *float64 `json:"dollar_per_single_mark,omitempty"`
	DollarPerCPUMarkSingle         *float64 `json:"dollar_per_cpu_mark_single,omitempty"`
	DollarPerCPUMarkSingleAdjusted *float64 `json:"dollar_per_cpu_mark_single_adjusted,omitempty"`
	DollarPerCPUMarkMulti          *float64 `json:"dollar_per_cpu_mark_multi,omitempty"`
	DollarPerCPUMarkMultiAdjusted  *float64 `json:"dollar_per_cpu_mark_multi_adjusted,omitempty"`
	PerfPerWatt                    *float64 `json:"perf_per_watt,omitempty"`
	ScoreCPUSingle                 *float64 `json:"score_cpu_single,omitempty"`
	ScoreCPUMulti                  *float64 `json:"score_cpu_multi,omitempty"`
	ScoreGPU                       *float64 `json:"score_gpu,omitempty"`
	ScoreComposite                 *float64 `json:"score_composite,omitempty"`
}

// ApplyTo copies the metric vector onto a listing's persisted columns.
func (m MetricSet) ApplyTo(l *Listing) {
	l.DollarPerCPUMark = m.DollarPerCPUMark
	l.DollarPerSingleMark = m.DollarPerSingleMark
	l.DollarPerCPUMarkSingle = m.DollarPerCPUMarkSingle
	l.DollarPerCPUMarkSingleAdjusted = m.DollarPerCPUMarkSingleAdjusted
	l.DollarPerCPUMarkMulti = m.DollarPerCPUMarkMulti
	l.DollarPerCPUMarkMultiAdjusted = m.DollarPerCPUMarkMultiAdjusted
	l.PerfPerWatt = m.PerfPerWatt
	l.ScoreCPUSingle = m.ScoreCPUSingle
	l.ScoreCPUMulti = m.ScoreCPUMulti
	l.ScoreGPU = m.ScoreGPU
	l.ScoreComposite = m.ScoreComposite
}
