// Package pagination implements keyset pagination over listing queries: an
// opaque cursor encoding the (sort value, id) bookmark of the previous page,
// strict request validation, and page assembly with a cached total.
package pagination

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// MaxLimit is the largest accepted page size.
const MaxLimit = 500

var sortByPattern = regexp.MustCompile(`^[a-z_]+$`)

// Cursor is the decoded page bookmark: the id and stringified sort value of
// the last row of the previous page.
type Cursor struct {
	ID        int64  `json:"id"`
	SortValue string `json:"sort_value"`
}

// EncodeCursor renders an opaque URL-safe cursor token.
func EncodeCursor(id int64, sortValue string) string {
	b, _ := json.Marshal(Cursor{ID: id, SortValue: sortValue})
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor token. Malformed input of any kind is a
// VALIDATION_ERROR.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	if c.ID <= 0 {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	return c, nil
}

// Request is one unvalidated page request as it arrives from a caller.
type Request struct {
	Filter persistence.ListingFilter
	SortBy string
	Desc   bool
	Limit  int
	Cursor string
}

// Query validates the request and converts it into a repository query.
func (r Request) Query() (persistence.ListingQuery, error) {
	q := persistence.ListingQuery{Filter: r.Filter, SortBy: r.SortBy, Desc: r.Desc, Limit: r.Limit}
	if q.SortBy == "" {
		q.SortBy = "id"
	}
	if !sortByPattern.MatchString(q.SortBy) {
		return q, apperr.Validation("invalid sort column %q", q.SortBy)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, apperr.Validation("limit must be between 1 and %d", MaxLimit)
	}
	if r.Cursor != "" {
		c, err := DecodeCursor(r.Cursor)
		if err != nil {
			return q, err
		}
		q.AfterID = &c.ID
		q.AfterSort = &c.SortValue
	}
	return q, nil
}

// Page is one result page. NextCursor is empty on the last page.
type Page struct {
	Items      []domain.Listing `json:"items"`
	Total      int64            `json:"total"`
	HasNext    bool             `json:"has_next"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Counter supplies the filtered listing total. In production this is the
// cache-backed counter; the raw repository also satisfies it.
type Counter interface {
	Count(ctx context.Context, f persistence.ListingFilter) (int64, error)
}

// Paginator pages through listings.
type Paginator struct {
	listings persistence.ListingsRepo
	counts   Counter
	log      zerolog.Logger
}

func NewPaginator(listings persistence.ListingsRepo, counts Counter, log zerolog.Logger) *Paginator {
	return &Paginator{
		listings: listings,
		counts:   counts,
		log:      log.With().Str("component", "pagination").Logger(),
	}
}

// Page runs one validated keyset query and assembles the page. The repository
// overfetches by one row to detect a next page; the cursor bookmarks the last
// row actually returned.
func (p *Paginator) Page(ctx context.Context, req Request) (*Page, error) {
	q, err := req.Query()
	if err != nil {
		return nil, err
	}

	items, hasNext, err := p.listings.List(ctx, q)
	if err != nil {
		return nil, err
	}

	total, err := p.counts.Count(ctx, q.Filter)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items, Total: total, HasNext: hasNext}
	if hasNext && len(items) > 0 {
		last := items[len(items)-1]
		page.NextCursor = EncodeCursor(last.ID, SortValueOf(&last, q.SortBy))
	}
	p.log.Debug().
		Str("sort_by", q.SortBy).
		Bool("desc", q.Desc).
		Int("returned", len(items)).
		Bool("has_next", hasNext).
		Msg("listing page")
	return page, nil
}

// SortValueOf stringifies a listing's sort column for cursor encoding.
// Timestamps use RFC 3339 with nanoseconds; nil numeric columns sort as zero
// so the cursor stays comparable.
func SortValueOf(l *domain.Listing, sortBy string) string {
	switch sortBy {
	case "price_usd":
		if l.PriceUSD == nil {
			return "0"
		}
		return l.PriceUSD.String()
	case "adjusted_price_usd":
		if l.AdjustedPriceUSD == nil {
			return "0"
		}
		return l.AdjustedPriceUSD.String()
	case "ram_gb":
		return strconv.Itoa(l.RamGB)
	case "score_composite":
		if l.ScoreComposite == nil {
			return "0"
		}
		return strconv.FormatFloat(*l.ScoreComposite, 'f', -1, 64)
	case "created_at":
		return l.CreatedAt.UTC().Format(time.RFC3339Nano)
	case "updated_at":
		return l.UpdatedAt.UTC().Format(time.RFC3339Nano)
	case "title":
		return l.Title
	default:
		return strconv.FormatInt(l.ID, 10)
	}
}
