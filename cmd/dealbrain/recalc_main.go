package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealbrain/dealbrain/internal/recalc"
)

// runRecalc handles `dealbrain recalc [--ruleset id] [--listings a,b,c]`.
func runRecalc(cmd *cobra.Command, args []string) error {
	rulesetID, _ := cmd.Flags().GetInt64("ruleset")
	rawListings, _ := cmd.Flags().GetString("listings")
	reason, _ := cmd.Flags().GetString("reason")

	req := recalc.Request{Reason: recalc.Reason(reason)}
	if rulesetID > 0 {
		req.RulesetID = &rulesetID
	}
	for _, part := range strings.Split(rawListings, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid listing id %q", part)
		}
		req.ListingIDs = append(req.ListingIDs, id)
	}
	if req.RulesetID == nil && len(req.ListingIDs) == 0 {
		return fmt.Errorf("at least one of --ruleset or --listings is required")
	}

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := services.Enqueuer.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued %d recalculation jobs (reason %s)\n", n, reason)
	return nil
}

// runWorker handles `dealbrain worker`: a blocking consumer pool that drains
// the recalculation queue until interrupted.
func runWorker(cmd *cobra.Command, args []string) error {
	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		services.Cfg.Recalc.Concurrency = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return services.Worker().Run(ctx)
}
