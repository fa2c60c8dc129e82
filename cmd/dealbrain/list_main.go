package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/pagination"
)

// runList handles `dealbrain list`: one keyset page of listings, filtered and
// sorted, as a table or JSON.
func runList(cmd *cobra.Command, args []string) error {
	req, err := listRequest(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := services.Pager.Page(ctx, req)
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case "table":
		return printListingTable(page)
	default:
		return fmt.Errorf("unknown format %q (want table or json)", format)
	}
}

// listRequest translates the command flags into a page request. Filter flags
// left empty stay nil and match everything.
func listRequest(cmd *cobra.Command) (pagination.Request, error) {
	var req pagination.Request

	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status := domain.ListingStatus(strings.ToLower(s))
		switch status {
		case domain.StatusActive, domain.StatusInactive, domain.StatusArchived:
		default:
			return req, fmt.Errorf("invalid status %q (want active, inactive, or archived)", s)
		}
		req.Filter.Status = &status
	}
	if s, _ := cmd.Flags().GetString("quality"); s != "" {
		quality := domain.Quality(strings.ToLower(s))
		switch quality {
		case domain.QualityFull, domain.QualityPartial:
		default:
			return req, fmt.Errorf("invalid quality %q (want full or partial)", s)
		}
		req.Filter.Quality = &quality
	}
	if s, _ := cmd.Flags().GetString("marketplace"); s != "" {
		m := domain.Marketplace(strings.ToLower(s))
		req.Filter.Marketplace = &m
	}
	if s, _ := cmd.Flags().GetString("manufacturer"); s != "" {
		req.Filter.Manufacturer = &s
	}
	if s, _ := cmd.Flags().GetString("min-price"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return req, fmt.Errorf("invalid --min-price %q", s)
		}
		req.Filter.MinPriceUSD = &d
	}
	if s, _ := cmd.Flags().GetString("max-price"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return req, fmt.Errorf("invalid --max-price %q", s)
		}
		req.Filter.MaxPriceUSD = &d
	}

	req.SortBy, _ = cmd.Flags().GetString("sort")
	req.Desc, _ = cmd.Flags().GetBool("desc")
	req.Limit, _ = cmd.Flags().GetInt("limit")
	req.Cursor, _ = cmd.Flags().GetString("cursor")
	return req, nil
}

func printListingTable(page *pagination.Page) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRICE\tADJUSTED\t$/MARK\tCOMPOSITE\tSTATUS\tQUALITY\tMARKET")
	fmt.Fprintln(w, "--\t-----\t-----\t--------\t------\t---------\t------\t-------\t------")
	for i := range page.Items {
		l := &page.Items[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			truncate(l.Title, 40),
			money(l.PriceUSD),
			money(l.AdjustedPriceUSD),
			ratio(l.DollarPerCPUMark),
			ratio(l.ScoreComposite),
			l.Status,
			l.Quality,
			l.Marketplace,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d listings\n", len(page.Items), page.Total)
	if page.HasNext {
		fmt.Printf("next page: dealbrain list --cursor %s\n", page.NextCursor)
	}
	return nil
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return "$" + d.StringFixed(2)
}

func ratio(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *f)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
