package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/oddsflow/hedger/internal/adapters/storage"
	"github.com/oddsflow/hedger/internal/domain"
)

// runReport prints the settled-trades report and aggregate stats.
func runReport(ctx context.Context, store *storage.SQLiteStore, strategy string) {
	trades, err := store.ListTrades(ctx, strategy)
	if err != nil {
		slog.Error("report: listing trades failed", "err", err)
		os.Exit(1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Event", "Comp", "Kickoff", "Status", "Entry", "Hedge", "PnL", "Note")
	for _, t := range trades {
		if t.SettledAt == nil && t.Status != domain.StatusSkipped && t.Status != domain.StatusCancelled {
			continue
		}
		table.Append(
			fmt.Sprintf("%d", t.ID),
			truncate(t.EventName, 28),
			truncate(t.Competition, 16),
			t.KickoffAt.Format("01-02 15:04"),
			string(t.Status),
			fmtFill(t.BackMatchedSize, t.BackPrice),
			fmtFill(t.LayMatchedSize, t.LayPrice),
			fmtPnL(t),
			truncate(t.LastError, 30),
		)
	}
	table.Render()

	stats, err := store.GetStats(ctx, strategy)
	if err != nil {
		slog.Error("report: stats failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("\n%s: %d trades | %d completed, %d skipped | %d wins / %d losses | staked %.2f | pnl %+.2f",
		stats.Strategy, stats.TotalTrades, stats.Completed, stats.Skipped,
		stats.Wins, stats.Losses, stats.TotalStaked, stats.TotalPnL)
	if stats.UnknownPnL > 0 {
		fmt.Printf(" | %d with UNKNOWN pnl", stats.UnknownPnL)
	}
	fmt.Println()

	byComp, err := store.PnLByCompetition(ctx, strategy)
	if err == nil && len(byComp) > 0 {
		fmt.Println()
		comp := tablewriter.NewWriter(os.Stdout)
		comp.Header("Competition", "Trades", "Staked", "PnL")
		for _, row := range byComp {
			comp.Append(
				truncate(row.Competition, 24),
				fmt.Sprintf("%d", row.Trades),
				fmt.Sprintf("%.2f", row.Staked),
				fmt.Sprintf("%+.2f", row.PnL),
			)
		}
		comp.Render()
	}

	buckets, err := store.ExposureBuckets(ctx, strategy, 5*time.Minute)
	if err == nil && len(buckets) > 0 {
		fmt.Println("\nTime at risk (entry to settlement):")
		for _, b := range buckets {
			fmt.Printf("  < %2dm: %d\n", int(b.UpperBound.Minutes()), b.Trades)
		}
	}
}

func fmtFill(size, price float64) string {
	if size <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f@%.2f", size, price)
}

// fmtPnL never prints an unknown P&L as zero.
func fmtPnL(t *domain.Trade) string {
	if t.SettledAt == nil {
		return "-"
	}
	if !t.PnLKnown {
		return "UNKNOWN"
	}
	return fmt.Sprintf("%+.2f", t.RealisedPnL)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
