package ebay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
)

func TestParseItemID(t *testing.T) {
	cases := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://www.ebay.com/itm/123456789012", "123456789012", true},
		{"https://www.ebay.com/itm/Dell-OptiPlex/123456789012?foo=bar", "123456789012", true},
		{"https://ebay.com/itm/1234567890123#frag", "1234567890123", true},
		{"https://www.ebay.com/itm/slug/1234567890", "1234567890", true},
		// 9 digits is one short of a valid item id.
		{"https://www.ebay.com/itm/slug/123456789", "", false},
		{"https://www.ebay.com/b/Dell/123456789012", "", false},
		{"https://www.ebay.com/itm/Dell-OptiPlex-7090", "", false},
	}
	for _, tc := range cases {
		got, err := ParseItemID(tc.url)
		if tc.wantOK {
			require.NoError(t, err, "url %s", tc.url)
			assert.Equal(t, tc.want, got, "url %s", tc.url)
		} else {
			require.Error(t, err, "url %s", tc.url)
			assert.Equal(t, adapter.KindParseError, adapter.KindOf(err), "url %s", tc.url)
		}
	}
}

const browseItemBody = `{
	"itemId": "v1|123456789012|0",
	"title": "Dell OptiPlex 7090",
	"price": {"value": "599.99", "currency": "USD"},
	"condition": "Used",
	"image": {"imageUrl": "http://x/i.jpg"},
	"seller": {"username": "store"},
	"localizedAspects": [
		{"name": "Processor", "value": "Intel Core i7-12700"},
		{"name": "RAM Size", "value": "16 GB"},
		{"name": "SSD Capacity", "value": "512 GB"}
	]
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New(Config{APIKey: "test-key", APIBase: srv.URL}, zerolog.Nop())
	return a, srv
}

func TestExtractHappyPath(t *testing.T) {
	var gotPath, gotAuth, gotMarket string
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotMarket = r.Header.Get("X-EBAY-C-MARKETPLACE-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(browseItemBody))
	})

	n, err := a.Extract(context.Background(), "https://www.ebay.com/itm/Dell-OptiPlex/123456789012?foo=bar")
	require.NoError(t, err)

	assert.Equal(t, "/buy/browse/v1/item/v1%7C123456789012%7C0", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "EBAY_US", gotMarket)

	assert.Equal(t, "Dell OptiPlex 7090", n.Title)
	require.NotNil(t, n.Price)
	assert.Equal(t, "599.99", n.Price.StringFixed(2))
	assert.Equal(t, "USD", n.Currency)
	assert.Equal(t, domain.ConditionUsed, n.Condition)
	assert.Equal(t, []string{"http://x/i.jpg"}, n.Images)
	assert.Equal(t, "store", n.Seller)
	assert.Equal(t, "123456789012", n.VendorItemID)
	assert.Equal(t, "Intel Core i7-12700", n.CPUModel)
	assert.Equal(t, 16, n.RamGB)
	assert.Equal(t, 512, n.StorageGB)
	assert.Equal(t, domain.MarketplaceEbay, n.Marketplace)
	assert.Equal(t, domain.QualityFull, n.Quality)
}

func TestExtractStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   adapter.ErrorKind
	}{
		{404, adapter.KindItemNotFound},
		{401, adapter.KindInvalidSchema},
		{429, adapter.KindRateLimited},
		{500, adapter.KindNetworkError},
		{503, adapter.KindNetworkError},
	}
	for _, tc := range cases {
		a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := a.Extract(context.Background(), "https://www.ebay.com/itm/123456789012")
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, adapter.KindOf(err), "status %d", tc.status)
	}
}

func TestExtractMissingTitle(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"itemId":"v1|123456789012|0","price":{"value":"10.00"}}`))
	})
	_, err := a.Extract(context.Background(), "https://www.ebay.com/itm/123456789012")
	assert.Equal(t, adapter.KindInvalidSchema, adapter.KindOf(err))
}

func TestExtractMissingPrice(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"itemId":"v1|123456789012|0","title":"PC"}`))
	})
	_, err := a.Extract(context.Background(), "https://www.ebay.com/itm/123456789012")
	assert.Equal(t, adapter.KindInvalidSchema, adapter.KindOf(err))
}

func TestExtractConditionNormalization(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.ItemCondition
	}{
		{"Brand New", domain.ConditionNew},
		{"Certified - Refurbished", domain.ConditionRefurb},
		{"Seller refurbished", domain.ConditionRefurb},
		{"Used", domain.ConditionUsed},
		{"", domain.ConditionUsed},
	}
	for _, tc := range cases {
		raw := tc.raw
		a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"itemId":"v1|123456789012|0","title":"PC","price":{"value":"10"},"condition":"` + raw + `"}`))
		})
		n, err := a.Extract(context.Background(), "https://www.ebay.com/itm/123456789012")
		require.NoError(t, err, "condition %q", tc.raw)
		assert.Equal(t, tc.want, n.Condition, "condition %q", tc.raw)
	}
}

func TestAspectStorageTBConversion(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"itemId":"v1|123456789012|0","title":"PC","price":{"value":"10"},
			"itemSpecifics":[{"name":"Hard Drive Capacity","value":"2 TB"},{"name":"Memory","value":"32GB DDR4"}]
		}`))
	})
	n, err := a.Extract(context.Background(), "https://www.ebay.com/itm/123456789012")
	require.NoError(t, err)
	assert.Equal(t, 2048, n.StorageGB)
	assert.Equal(t, 32, n.RamGB)
}

func TestStripItemID(t *testing.T) {
	assert.Equal(t, "123456789012", stripItemID("v1|123456789012|0"))
	assert.Equal(t, "123456789012", stripItemID("123456789012"))
	assert.Equal(t, "", stripItemID(""))
}

func TestMetadataDefaults(t *testing.T) {
	a := New(Config{APIKey: "k"}, zerolog.Nop())
	meta := a.Metadata()
	assert.Equal(t, "ebay", meta.Name)
	assert.Equal(t, 10, meta.Priority)
	assert.Contains(t, meta.SupportedDomains, "ebay.com")
	assert.Positive(t, meta.Timeout)
}
