package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dealbrain/dealbrain/internal/baseline"
)

// runBaselineLoad handles `dealbrain baseline load <file.json>`.
func runBaselineLoad(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read baseline document: %w", err)
	}
	actor, _ := cmd.Flags().GetString("actor")

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := services.BaselineLoader(actor).Load(ctx, raw, args[0])
	if err != nil {
		return err
	}

	if result.Status == baseline.StatusSkipped {
		fmt.Printf("Baseline already adopted as ruleset %d (%s)\n", result.RulesetID, result.RulesetName)
		return nil
	}
	fmt.Printf("Created ruleset %d (%s): %d groups, %d placeholder rules, %d prior baselines deactivated\n",
		result.RulesetID, result.RulesetName, result.Groups, result.Rules, result.Deactivated)
	fmt.Printf("Hydrate with: dealbrain baseline hydrate %d\n", result.RulesetID)
	return nil
}

// runBaselineHydrate handles `dealbrain baseline hydrate <ruleset-id>`.
func runBaselineHydrate(cmd *cobra.Command, args []string) error {
	rulesetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ruleset id %q", args[0])
	}
	actor, _ := cmd.Flags().GetString("actor")

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	summary, err := services.BaselineHydrator(actor).Hydrate(ctx, rulesetID)
	if err != nil {
		return err
	}

	fmt.Printf("Ruleset %d hydrated: %d placeholders expanded into %d rules (%d already hydrated, %d downgraded, %d values skipped)\n",
		summary.RulesetID, summary.PlaceholdersHydrated, summary.RulesCreated,
		summary.PlaceholdersSkipped, summary.Downgraded, summary.ScalarsSkipped+summary.BucketsSkipped)
	return nil
}
