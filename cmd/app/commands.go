package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"creator-billing/internal/domain/catalog"
	"creator-billing/internal/domain/model"
	"creator-billing/internal/infra/api"
	"creator-billing/internal/usecase"
)

var pruneRetention time.Duration

var pruneLedgerCmd = &cobra.Command{
	Use:   "prune-ledger",
	Short: "Delete applied-event ledger rows older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		store, err := openStorage(ctx, cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		defer store.close()

		retention := cfg.Ledger.Retention
		if pruneRetention > 0 {
			retention = pruneRetention
		}
		n, err := usecase.NewLedgerUseCase(store.ledger, store.tm, nil, logger).Prune(ctx, retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d ledger rows older than %s\n", n, retention)
		return nil
	},
}

var plansTrack string

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the plan catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		var track model.Track
		if plansTrack != "" {
			t, err := model.ParseTrack(plansTrack)
			if err != nil {
				return err
			}
			track = t
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TRACK\tPLAN\tCYCLE\tPRICE\tGRANTS")
		for _, p := range catalog.Plans(track) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d.%02d %s\t%s\n",
				p.Track, p.Plan, p.Cycle, p.PriceMinorUnits/100, p.PriceMinorUnits%100, p.Currency, p.Description())
		}
		return w.Flush()
	},
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user (development only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.IsProduction() {
			return fmt.Errorf("token minting is disabled when app.env=production")
		}
		auth, err := api.NewAuthenticator(cfg.Auth)
		if err != nil {
			return err
		}
		tok, err := auth.Mint(tokenUser, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	pruneLedgerCmd.Flags().DurationVar(&pruneRetention, "retention", 0, "override ledger.retention")
	plansCmd.Flags().StringVar(&plansTrack, "track", "", "content or companion")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the subject claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
