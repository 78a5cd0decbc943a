// Command courtedge scans upcoming tennis matches for positive expected value
// bets and announces them on Telegram.
//
// Usage:
//
//	courtedge run --config configs/config.json
//	courtedge scan --notify
//	courtedge stats
//	courtedge cleanup --days 30
//	courtedge result 10293847 --winner HOME --home-odd 1.85 --away-odd 2.05
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/courtedge/internal/api"
	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/storage"
	"github.com/rewired-gh/courtedge/internal/telegram"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "courtedge",
		Short:         "Tennis pre-match value bet scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.json", "Path to configuration file")

	root.AddCommand(runCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(resultCmd())

	if err := root.Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scan and monitor loops with the status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.service()
			if err != nil {
				return err
			}

			if a.notifier != nil {
				if err := a.notifier.SendStartup(telegram.StartupInfo{
					Version:      version,
					Model:        cfg.Model.Variant,
					HoursAhead:   cfg.Scanner.HoursAhead,
					MinEV:        cfg.Scanner.MinEV,
					OddMin:       cfg.Scanner.OddMin,
					OddMax:       cfg.Scanner.OddMax,
					ScanInterval: cfg.Monitor.ScanInterval,
				}); err != nil {
					logger.Warn("Failed to send startup notification to Telegram: %v", err)
				}
			}

			var srv *http.Server
			if cfg.HTTP.Enabled {
				srv = &http.Server{
					Addr: cfg.HTTP.Addr,
					Handler: api.NewRouter(svc, a.store, api.Options{
						AllowedOrigins: cfg.HTTP.AllowedOrigins,
						RequestTimeout: cfg.HTTP.RequestTimeout,
						ScanTimeout:    cfg.HTTP.ScanTimeout,
					}),
					ReadHeaderTimeout: 10 * time.Second,
					IdleTimeout:       60 * time.Second,
				}
				go func() {
					logger.Info("Status server listening on %s", cfg.HTTP.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Status server failed: %v", err)
					}
				}()
			}

			runErr := svc.Run(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Status server shutdown: %v", err)
				}
			}
			return runErr
		},
	}
}

// --------------------------------------------------------------------------
// scan command
// --------------------------------------------------------------------------

func scanCmd() *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and print the opportunities found",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, notify)
			if err != nil {
				return err
			}
			defer a.close()

			if notify {
				svc, err := a.service()
				if err != nil {
					return err
				}
				summary, err := svc.TriggerScan(ctx)
				if err != nil {
					return err
				}
				opps, err := a.store.Active(ctx, cfg.Monitor.MinHoursAhead)
				if err != nil {
					return err
				}
				printOpportunities(os.Stdout, opps)
				fmt.Printf("\n%d matches, %d skipped, %d opportunities, %d new, %d notified\n",
					summary.Matches, summary.Skipped, summary.Opportunities, summary.Saved, summary.Notified)
				return nil
			}

			opps, report, err := a.scanner.Scan(ctx, a.params())
			if err != nil {
				return err
			}
			saved, err := a.store.Save(ctx, opps)
			if err != nil {
				return err
			}
			printOpportunities(os.Stdout, opps)
			fmt.Printf("\n%d matches, %d skipped, %d opportunities, %d new\n",
				report.Matches, report.Skipped, len(opps), saved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Send unsent opportunities to Telegram")
	return cmd
}

func printOpportunities(w io.Writer, opps []models.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(w, "No opportunities found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EV\tODD\tPICK\tMATCH\tSTART (UTC)\tCONF")
	for i := range opps {
		o := &opps[i]
		fmt.Fprintf(tw, "%+.1f%%\t%s\t%s\t%s\t%s\t%s\n",
			o.EV*100, models.RoundOdd(o.Odd).StringFixed(2), o.Pick(), o.Match,
			o.StartTime.UTC().Format("01-02 15:04"), o.Confidence)
	}
	tw.Flush()
}

// --------------------------------------------------------------------------
// stats command
// --------------------------------------------------------------------------

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print opportunity store statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := storage.New(ctx, cfg.Storage.OpportunitiesDB)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Statistics(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

// --------------------------------------------------------------------------
// cleanup command
// --------------------------------------------------------------------------

func cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old opportunities and expired sent records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Storage.RetentionDays
			}
			store, err := storage.New(ctx, cfg.Storage.OpportunitiesDB)
			if err != nil {
				return err
			}
			defer store.Close()

			sent, err := store.CleanupExpiredSent(ctx)
			if err != nil {
				return err
			}
			old, err := store.CleanupOld(ctx, days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired sent records and %d opportunities older than %d days\n", sent, old, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to storage.retention_days)")
	return cmd
}

// --------------------------------------------------------------------------
// result command
// --------------------------------------------------------------------------

func resultCmd() *cobra.Command {
	var winner string
	var homeOdd, awayOdd float64
	cmd := &cobra.Command{
		Use:   "result EVENT_ID",
		Short: "Record a finished match and report closing line value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			side, err := parseSide(winner)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			eventID := args[0]
			opps, err := a.store.ByEvent(ctx, eventID)
			if err != nil {
				return err
			}
			if len(opps) == 0 {
				return fmt.Errorf("no stored opportunities for event %s", eventID)
			}

			if err := a.store.RecordResult(ctx, &models.MatchResult{
				EventID:        eventID,
				Winner:         side,
				HomeClosingOdd: homeOdd,
				AwayClosingOdd: awayOdd,
			}); err != nil {
				return err
			}

			match := opps[0]
			won, lost := match.Home, match.Away
			if side == models.SideAway {
				won, lost = lost, won
			}
			if err := a.players.RecordMatch(ctx, won, lost, match.Surface, match.StartTime); err != nil {
				logger.Warn("Failed to update player ratings: %v", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PICK\tODD\tOUTCOME\tCLV")
			for i := range opps {
				o := &opps[i]
				outcome := "LOST"
				if o.Side == side {
					outcome = "WON"
				}
				clv := "n/a"
				v, err := a.store.ClosingLineValue(ctx, o)
				switch {
				case err == nil:
					clv = fmt.Sprintf("%+.1f%%", v*100)
				case !errors.Is(err, storage.ErrNotFound):
					logger.Warn("Failed to compute closing line value: %v", err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Pick(), models.RoundOdd(o.Odd).StringFixed(2), outcome, clv)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&winner, "winner", "", "Winning side: HOME or AWAY")
	cmd.Flags().Float64Var(&homeOdd, "home-odd", 0, "Closing odd of the home player")
	cmd.Flags().Float64Var(&awayOdd, "away-odd", 0, "Closing odd of the away player")
	_ = cmd.MarkFlagRequired("winner")
	return cmd
}

func parseSide(s string) (models.Side, error) {
	side := models.Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("winner must be HOME or AWAY, got %q", s)
	}
	return side, nil
}
