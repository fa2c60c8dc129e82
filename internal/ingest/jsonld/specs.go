package jsonld

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dealbrain/dealbrain/internal/domain"
)

var (
	cpuTextPattern = regexp.MustCompile(`(?i)(?:Intel|AMD)?\s*(?:Core)?\s*(i[3579]|Ryzen\s*[3579])\s*-?\s*(\d{4,5}[A-Z]*)`)
	ramTextPattern = regexp.MustCompile(`(?i)(\d+)\s*GB\s*(?:RAM|DDR[34]|Memory)?`)
	// storageTextPattern requires a storage keyword so bare RAM sizes never
	// land here; it runs first and its match is masked out before the RAM
	// pattern sees the text.
	storageTextPattern = regexp.MustCompile(`(?i)(\d+)\s*(GB|TB)\s*(?:SSD|NVMe|HDD|M\.2|SATA|Storage|Drive)`)

	spaceRun = regexp.MustCompile(`\s+`)
)

// enrichFromText runs the component regexes over title plus description,
// filling only fields the tier extraction left empty.
func enrichFromText(n *domain.NormalizedListing) {
	text := n.Title
	if n.Description != "" {
		text += " " + n.Description
	}

	if n.CPUModel == "" {
		if model := matchCPUModel(text); model != "" {
			n.CPUModel = model
			n.MarkExtracted("cpu_model")
		}
	}

	// Storage first: its match is blanked so the looser RAM pattern cannot
	// re-read a drive size as memory.
	masked := text
	if loc := storageTextPattern.FindStringIndex(masked); loc != nil {
		if n.StorageGB == 0 {
			if gb, ok := parseStorageMatch(masked[loc[0]:loc[1]]); ok {
				n.StorageGB = gb
				n.MarkExtracted("storage_gb")
			}
		}
		masked = masked[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + masked[loc[1]:]
	}

	if n.RamGB == 0 {
		if m := ramTextPattern.FindStringSubmatch(masked); m != nil {
			if gb, err := strconv.Atoi(m[1]); err == nil && gb > 0 {
				n.RamGB = gb
				n.MarkExtracted("ram_gb")
			}
		}
	}
}

// matchCPUModel returns the full cleaned CPU match, e.g.
// "Intel Core i7-12700" or "Ryzen 5 5600G".
func matchCPUModel(text string) string {
	m := cpuTextPattern.FindString(text)
	if m == "" {
		return ""
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(m, " "))
}

func parseStorageMatch(match string) (int, bool) {
	sub := storageTextPattern.FindStringSubmatch(match)
	if sub == nil {
		return 0, false
	}
	size, err := strconv.Atoi(sub[1])
	if err != nil || size <= 0 {
		return 0, false
	}
	if strings.EqualFold(sub[2], "TB") {
		size *= 1024
	}
	return size, true
}
