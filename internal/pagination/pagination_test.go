package pagination

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence/memstore"
)

func TestCursorRoundTrip(t *testing.T) {
	cases := []struct {
		id        int64
		sortValue string
	}{
		{1, "999.99"},
		{42, "2025-10-01T12:00:00.000000001Z"},
		{7, "Dell OptiPlex 7090 — Tiny"},
		{9223372036854775807, ""},
	}
	for _, tc := range cases {
		token := EncodeCursor(tc.id, tc.sortValue)
		got, err := DecodeCursor(token)
		require.NoError(t, err, "cursor %q", token)
		assert.Equal(t, tc.id, got.ID)
		assert.Equal(t, tc.sortValue, got.SortValue)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	cases := []string{
		"not base64 at all!!",
		base64.URLEncoding.EncodeToString([]byte("not json")),
		base64.URLEncoding.EncodeToString([]byte(`{"id":0,"sort_value":"x"}`)),
		base64.URLEncoding.EncodeToString([]byte(`{"id":-3,"sort_value":"x"}`)),
	}
	for _, token := range cases {
		_, err := DecodeCursor(token)
		require.Error(t, err, "token %q", token)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation), "token %q", token)
	}
}

func TestRequestValidation(t *testing.T) {
	_, err := Request{Limit: 0}.Query()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = Request{Limit: MaxLimit + 1}.Query()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = Request{Limit: 10, SortBy: "price; DROP TABLE listing"}.Query()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	q, err := Request{Limit: MaxLimit}.Query()
	require.NoError(t, err)
	assert.Equal(t, "id", q.SortBy, "empty sort_by defaults to id")
	assert.Nil(t, q.AfterID)

	q, err = Request{Limit: 1, SortBy: "price_usd", Cursor: EncodeCursor(12, "250")}.Query()
	require.NoError(t, err)
	require.NotNil(t, q.AfterID)
	assert.Equal(t, int64(12), *q.AfterID)
	require.NotNil(t, q.AfterSort)
	assert.Equal(t, "250", *q.AfterSort)

	_, err = Request{Limit: 1, Cursor: "@@@"}.Query()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func seedListings(store *memstore.Store, n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i*50))
		l := store.SeedListing(domain.Listing{
			Title:    fmt.Sprintf("Mini PC %02d", i),
			PriceUSD: &price,
			RamGB:    8,
		})
		ids = append(ids, l.ID)
	}
	return ids
}

func TestPaginatorWalksAllPagesOnce(t *testing.T) {
	store := memstore.New()
	seeded := seedListings(store, 7)

	repo := store.Repo()
	p := NewPaginator(repo.Listings, repo.Listings, zerolog.Nop())

	seen := map[int64]int{}
	cursor := ""
	pages := 0
	for {
		page, err := p.Page(context.Background(), Request{SortBy: "price_usd", Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		assert.Equal(t, int64(7), page.Total)
		pages++

		for _, item := range page.Items {
			seen[item.ID]++
		}
		if !page.HasNext {
			assert.Empty(t, page.NextCursor)
			break
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, seen, len(seeded))
	for _, id := range seeded {
		assert.Equal(t, 1, seen[id], "listing %d must appear exactly once", id)
	}
}

func TestPaginatorDescending(t *testing.T) {
	store := memstore.New()
	seedListings(store, 5)

	repo := store.Repo()
	p := NewPaginator(repo.Listings, repo.Listings, zerolog.Nop())

	first, err := p.Page(context.Background(), Request{SortBy: "price_usd", Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.Items[0].PriceUSD.GreaterThan(*first.Items[1].PriceUSD))
	require.True(t, first.HasNext)

	second, err := p.Page(context.Background(), Request{SortBy: "price_usd", Desc: true, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.True(t, first.Items[1].PriceUSD.GreaterThan(*second.Items[0].PriceUSD))
}

func TestSortValueOf(t *testing.T) {
	price := decimal.RequireFromString("249.99")
	score := 712.5
	l := &domain.Listing{ID: 11, Title: "HP EliteDesk 800 G6", PriceUSD: &price, RamGB: 32, ScoreComposite: &score}

	assert.Equal(t, "249.99", SortValueOf(l, "price_usd"))
	assert.Equal(t, "32", SortValueOf(l, "ram_gb"))
	assert.Equal(t, "712.5", SortValueOf(l, "score_composite"))
	assert.Equal(t, "HP EliteDesk 800 G6", SortValueOf(l, "title"))
	assert.Equal(t, "11", SortValueOf(l, "id"))
	assert.Equal(t, "0", SortValueOf(&domain.Listing{}, "adjusted_price_usd"), "nil numerics sort as zero")
}
