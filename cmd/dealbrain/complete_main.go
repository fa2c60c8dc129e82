package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// runComplete handles `dealbrain complete <listing-id> --price <usd>`.
func runComplete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid listing id %q", args[0])
	}
	raw, _ := cmd.Flags().GetString("price")
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid price %q", raw)
	}

	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l, err := services.Listings.CompletePartialImport(ctx, id, price)
	if err != nil {
		return err
	}

	fmt.Printf("Listing %d completed: quality %s, price %s", l.ID, l.Quality, l.PriceUSD.StringFixed(2))
	if l.AdjustedPriceUSD != nil {
		fmt.Printf(", adjusted %s", l.AdjustedPriceUSD.StringFixed(2))
	}
	fmt.Println()
	return nil
}
