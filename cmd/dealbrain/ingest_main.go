package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// runIngest handles `dealbrain ingest <url>` and `dealbrain ingest --file`.
func runIngest(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" && len(args) == 0 {
		return fmt.Errorf("either a url argument or --file is required")
	}
	if file != "" && len(args) > 0 {
		return fmt.Errorf("a url argument and --file are mutually exclusive")
	}

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if file != "" {
		report, err := services.Ingest.BulkIngestFile(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("Import job %d finished: %d urls, %d created, %d updated, %d failed, %d skipped\n",
			report.JobID, report.Total, report.Created, report.Updated, report.Failed, report.Skipped)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := services.Ingest.IngestURL(ctx, args[0])
	if err != nil {
		return err
	}

	verb := "updated"
	if res.Created {
		verb = "created"
	}
	fmt.Printf("Listing %d %s via %s (quality %s)\n", res.Listing.ID, verb, res.Adapter, res.Listing.Quality)
	if res.Listing.AdjustedPriceUSD != nil {
		fmt.Printf("  price %s, adjusted %s\n", res.Listing.PriceUSD.StringFixed(2), res.Listing.AdjustedPriceUSD.StringFixed(2))
	} else if res.Listing.Quality == domain.QualityPartial {
		fmt.Printf("  no price extracted; complete with: dealbrain complete %d --price <usd>\n", res.Listing.ID)
	}
	return nil
}
