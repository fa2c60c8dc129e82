package jsonld

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dealbrain/dealbrain/internal/domain"
)

func TestMatchCPUModel(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Dell OptiPlex Intel Core i7-12700 16GB", "Intel Core i7-12700"},
		{"Mini PC AMD Ryzen 5 5600G 16GB DDR4", "AMD Ryzen 5 5600G"},
		{"HP EliteDesk i5 9500T tiny", "i5 9500T"},
		{"Beelink SER5 ryzen7 5800H", "ryzen7 5800H"},
		{"Fanless PC Celeron J4125", ""},
		{"No CPU here", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchCPUModel(tc.text), "text %q", tc.text)
	}
}

func TestEnrichFromTextStorageBeforeRAM(t *testing.T) {
	n := &domain.NormalizedListing{
		Title:       "Mini PC 512GB SSD",
		Marketplace: domain.MarketplaceOther,
	}
	enrichFromText(n)
	assert.Equal(t, 512, n.StorageGB)
	// The drive size must not be re-read as memory.
	assert.Equal(t, 0, n.RamGB)
}

func TestEnrichFromTextBoth(t *testing.T) {
	n := &domain.NormalizedListing{
		Title:       "Dell OptiPlex 3080 Intel Core i5-10500T 16GB DDR4 256GB NVMe",
		Marketplace: domain.MarketplaceOther,
	}
	enrichFromText(n)
	assert.Equal(t, "Intel Core i5-10500T", n.CPUModel)
	assert.Equal(t, 256, n.StorageGB)
	assert.Equal(t, 16, n.RamGB)
}

func TestEnrichFromTextTBConversion(t *testing.T) {
	n := &domain.NormalizedListing{
		Title:       "Gaming PC 2TB SSD 32GB RAM",
		Marketplace: domain.MarketplaceOther,
	}
	enrichFromText(n)
	assert.Equal(t, 2048, n.StorageGB)
	assert.Equal(t, 32, n.RamGB)
}

func TestEnrichFromTextUsesDescription(t *testing.T) {
	n := &domain.NormalizedListing{
		Title:       "Refurbished workstation",
		Description: "Specs: Intel Core i9-12900 64GB Memory 1TB NVMe drive",
		Marketplace: domain.MarketplaceOther,
	}
	enrichFromText(n)
	assert.Equal(t, "Intel Core i9-12900", n.CPUModel)
	assert.Equal(t, 1024, n.StorageGB)
	assert.Equal(t, 64, n.RamGB)
}

func TestEnrichFromTextKeepsExistingValues(t *testing.T) {
	n := &domain.NormalizedListing{
		Title:       "PC i5-8500 8GB 256GB SSD",
		Marketplace: domain.MarketplaceOther,
		CPUModel:    "Intel Core i7-9700",
		RamGB:       32,
		StorageGB:   1024,
	}
	enrichFromText(n)
	assert.Equal(t, "Intel Core i7-9700", n.CPUModel)
	assert.Equal(t, 32, n.RamGB)
	assert.Equal(t, 1024, n.StorageGB)
}

func TestParseCapacityValues(t *testing.T) {
	gb, ok := domain.ParseStorageGB("1 TB")
	assert.True(t, ok)
	assert.Equal(t, 1024, gb)

	gb, ok = domain.ParseStorageGB("2TB SSD")
	assert.True(t, ok)
	assert.Equal(t, 2048, gb)

	gb, ok = domain.ParseRamGB("16GB DDR4")
	assert.True(t, ok)
	assert.Equal(t, 16, gb)

	_, ok = domain.ParseRamGB("a lot")
	assert.False(t, ok)
}
