package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func scanCmd(configPath *string) *cobra.Command {
	var (
		tickers []string
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one swing scan and print the results as JSON",
		Long: `Evaluate the swing screen for the given tickers, or for the watchlist
when none are given (falling back to the configured defaults).

Example:
  trading-api scan --tickers AAPL,TSLA
  trading-api scan --execute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			_, sc, err := a.newTrading(nil)
			if err != nil {
				return err
			}
			defer sc.Stop()

			if len(tickers) == 0 {
				if tickers, err = a.watchlist.Symbols(ctx); err != nil {
					a.log.Warn("watchlist unavailable, scanning defaults", "error", err)
					tickers = nil
				}
			}

			results, err := sc.Scan(ctx, tickers, execute)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringSliceVarP(&tickers, "tickers", "t", nil, "comma-separated symbols to scan")
	cmd.Flags().BoolVar(&execute, "execute", false, "place swing trades for every signal")
	return cmd
}
