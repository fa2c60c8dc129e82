package domain

import (
	"fmt"
	"strings"
	"time"
)

// DDRGeneration is the canonical RAM technology generation.
type DDRGeneration string

const (
	DDR3       DDRGeneration = "DDR3"
	DDR4       DDRGeneration = "DDR4"
	DDR5       DDRGeneration = "DDR5"
	LPDDR4     DDRGeneration = "LPDDR4"
	LPDDR5     DDRGeneration = "LPDDR5"
	DDRUnknown DDRGeneration = "UNKNOWN"
)

// ParseDDRGeneration normalizes a free-form RAM type string ("ddr4",
// "LPDDR5X") onto the closed generation set.
func ParseDDRGeneration(raw string) DDRGeneration {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "LPDDR5"):
		return LPDDR5
	case strings.HasPrefix(s, "LPDDR4"):
		return LPDDR4
	case strings.HasPrefix(s, "DDR5"):
		return DDR5
	case strings.HasPrefix(s, "DDR4"):
		return DDR4
	case strings.HasPrefix(s, "DDR3"):
		return DDR3
	default:
		return DDRUnknown
	}
}

// StorageMedium is the canonical storage technology.
type StorageMedium string

const (
	MediumNVMe    StorageMedium = "NVMe"
	MediumSATASSD StorageMedium = "SATA-SSD"
	MediumHDD     StorageMedium = "HDD"
	MediumHybrid  StorageMedium = "Hybrid"
	MediumEMMC    StorageMedium = "eMMC"
	MediumUFS     StorageMedium = "UFS"
	MediumUnknown StorageMedium = "UNKNOWN"
)

// ParseStorageMedium normalizes free-form storage type strings.
func ParseStorageMedium(raw string) StorageMedium {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "nvme"), strings.Contains(s, "m.2"):
		return MediumNVMe
	case strings.Contains(s, "ssd"):
		return MediumSATASSD
	case strings.Contains(s, "hdd"), strings.Contains(s, "hard"):
		return MediumHDD
	case strings.Contains(s, "hybrid"), strings.Contains(s, "sshd"):
		return MediumHybrid
	case strings.Contains(s, "emmc"):
		return MediumEMMC
	case strings.Contains(s, "ufs"):
		return MediumUFS
	default:
		return MediumUnknown
	}
}

// CPU is a catalog processor with PassMark-style benchmark scores.
type CPU struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Manufacturer  string    `json:"manufacturer" db:"manufacturer"`
	Cores         int       `json:"cores" db:"cores"`
	Threads       int       `json:"threads" db:"threads"`
	TDPWatts      int       `json:"tdp_w" db:"tdp_w"`
	CPUMarkSingle float64   `json:"cpu_mark_single" db:"cpu_mark_single"`
	CPUMarkMulti  float64   `json:"cpu_mark_multi" db:"cpu_mark_multi"`
	IGPUMark      float64   `json:"igpu_mark" db:"igpu_mark"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// InferManufacturer guesses a CPU manufacturer from the first token of its
// model name. Used when imports reference a CPU not yet in the catalog.
func InferManufacturer(cpuName string) string {
	fields := strings.Fields(strings.TrimSpace(cpuName))
	if len(fields) == 0 {
		return "Unknown"
	}
	first := strings.ToLower(fields[0])
	switch {
	case strings.HasPrefix(first, "intel"), strings.HasPrefix(first, "i3"),
		strings.HasPrefix(first, "i5"), strings.HasPrefix(first, "i7"), strings.HasPrefix(first, "i9"):
		return "Intel"
	case strings.HasPrefix(first, "amd"), strings.HasPrefix(first, "ryzen"):
		return "AMD"
	case strings.HasPrefix(first, "apple"), first == "m1", first == "m2", first == "m3", first == "m4":
		return "Apple"
	case strings.HasPrefix(first, "qualcomm"), strings.HasPrefix(first, "snapdragon"):
		return "Qualcomm"
	default:
		return strings.ToUpper(first[:1]) + first[1:]
	}
}

// GPU is a catalog graphics unit.
type GPU struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Manufacturer string    `json:"manufacturer" db:"manufacturer"`
	GPUMark      float64   `json:"gpu_mark" db:"gpu_mark"`
	MetalScore   float64   `json:"metal_score" db:"metal_score"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// RamSpec is a canonical RAM configuration. Rows are deduped on the full
// Key() tuple, so two listings with identical RAM share one spec.
type RamSpec struct {
	ID                  int64          `json:"id" db:"id"`
	DDRGeneration       DDRGeneration  `json:"ddr_generation" db:"ddr_generation"`
	SpeedMHz            int            `json:"speed_mhz" db:"speed_mhz"`
	ModuleCount         int            `json:"module_count" db:"module_count"`
	CapacityPerModuleGB int            `json:"capacity_per_module_gb" db:"capacity_per_module_gb"`
	TotalCapacityGB     int            `json:"total_capacity_gb" db:"total_capacity_gb"`
	Attributes          map[string]any `json:"attributes,omitempty" db:"-"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

// Key returns the canonical identity tuple used for dedup lookups.
func (r RamSpec) Key() string {
	return fmt.Sprintf("%s|%d|%d|%d|%d", r.DDRGeneration, r.SpeedMHz, r.ModuleCount, r.CapacityPerModuleGB, r.TotalCapacityGB)
}

// Label renders a human-readable display label, e.g. "16GB DDR4-3200 (2x8GB)".
func (r RamSpec) Label() string {
	var b strings.Builder
	if r.TotalCapacityGB > 0 {
		fmt.Fprintf(&b, "%dGB", r.TotalCapacityGB)
	}
	if r.DDRGeneration != "" && r.DDRGeneration != DDRUnknown {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(r.DDRGeneration))
		if r.SpeedMHz > 0 {
			fmt.Fprintf(&b, "-%d", r.SpeedMHz)
		}
	}
	if r.ModuleCount > 0 && r.CapacityPerModuleGB > 0 {
		fmt.Fprintf(&b, " (%dx%dGB)", r.ModuleCount, r.CapacityPerModuleGB)
	}
	if b.Len() == 0 {
		return "RAM"
	}
	return strings.TrimSpace(b.String())
}

// StorageProfile is a canonical storage configuration, deduped like RamSpec.
type StorageProfile struct {
	ID              int64         `json:"id" db:"id"`
	Medium          StorageMedium `json:"medium" db:"medium"`
	Interface       string        `json:"interface" db:"interface"`
	FormFactor      string        `json:"form_factor" db:"form_factor"`
	CapacityGB      int           `json:"capacity_gb" db:"capacity_gb"`
	PerformanceTier string        `json:"performance_tier" db:"performance_tier"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Key returns the canonical identity tuple used for dedup lookups.
func (s StorageProfile) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", s.Medium, s.Interface, s.FormFactor, s.CapacityGB, s.PerformanceTier)
}

// Port is one connector row inside a ports profile.
type Port struct {
	ID             int64  `json:"id" db:"id"`
	PortsProfileID int64  `json:"ports_profile_id" db:"ports_profile_id"`
	PortType       string `json:"port_type" db:"port_type"`
	Count          int    `json:"count" db:"count"`
	SpecNotes      string `json:"spec_notes" db:"spec_notes"`
}

// PortsProfile is a named connector bundle shared across listings.
type PortsProfile struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Ports     []Port    `json:"ports,omitempty" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScoringProfile is a named weighted sum over metric components. Exactly one
// profile is marked default and drives score_composite.
type ScoringProfile struct {
	ID        int64              `json:"id" db:"id"`
	Name      string             `json:"name" db:"name"`
	Weights   map[string]float64 `json:"weights" db:"-"`
	IsDefault bool               `json:"is_default" db:"is_default"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}
