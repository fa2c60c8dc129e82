package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ramValuePattern     = regexp.MustCompile(`(?i)(\d+)\s*GB`)
	storageValuePattern = regexp.MustCompile(`(?i)(\d+)\s*(GB|TB)`)
)

// ParseRamGB reads a labeled RAM capacity value like "16 GB" or "32GB DDR4".
func ParseRamGB(value string) (int, bool) {
	m := ramValuePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	gb, err := strconv.Atoi(m[1])
	if err != nil || gb <= 0 {
		return 0, false
	}
	return gb, true
}

// ParseStorageGB reads a labeled storage capacity value like "512 GB" or
// "2TB", converting terabytes to gigabytes.
func ParseStorageGB(value string) (int, bool) {
	m := storageValuePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	size, err := strconv.Atoi(m[1])
	if err != nil || size <= 0 {
		return 0, false
	}
	if strings.EqualFold(m[2], "TB") {
		size *= 1024
	}
	return size, true
}
