package domain

import "time"

// Stats aggregates settled trades for one strategy.
type Stats struct {
	Strategy      string
	TotalTrades   int
	Completed     int
	Skipped       int
	UnknownPnL    int // completed trades whose P&L is explicitly unknown
	TotalStaked   float64
	TotalPnL      float64 // sum over completed trades with known P&L
	Wins          int
	Losses        int
	FirstSettled  *time.Time
	LastSettled   *time.Time
}

// CompetitionPnL is realized P&L grouped by competition.
type CompetitionPnL struct {
	Competition string
	Trades      int
	Staked      float64
	PnL         float64
}

// ExposureBucket counts settled trades by time-at-risk (entry to settlement),
// bucketed by a policy parameter.
type ExposureBucket struct {
	UpperBound time.Duration // exclusive upper edge of the bucket
	Trades     int
}
