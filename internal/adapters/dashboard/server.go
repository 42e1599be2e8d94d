package dashboard

// server.go — read-only HTTP API sobre el estado persistido.
//
// Solo lecturas: ninguna ruta muta trades ni toca el venue. El motor es el
// único escritor; este server comparte el mismo store.

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oddsflow/hedger/internal/domain"
	"github.com/oddsflow/hedger/internal/ports"
)

// exposureBucket is the fixed histogram step for time-at-risk reporting.
const exposureBucket = 5 * time.Minute

// Server expone estadísticas y trades por HTTP.
type Server struct {
	store    ports.TradeStore
	strategy string
	http     *http.Server
}

// New construye el server sobre el store compartido.
func New(store ports.TradeStore, strategy, listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{store: store, strategy: strategy}
	api := router.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/stats", s.stats)
		api.GET("/pnl/competitions", s.pnlByCompetition)
		api.GET("/exposure", s.exposure)
		api.GET("/trades", s.trades)
		api.GET("/trades/:id", s.trade)
		api.GET("/trades/:id/events", s.tradeEvents)
	}

	s.http = &http.Server{Addr: listen, Handler: router}
	return s
}

// Start arranca el listener; devuelve cuando el server se cierra.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cierra el listener ordenadamente.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategy": s.strategy})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.store.GetStats(c.Request.Context(), s.strategy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy":      st.Strategy,
		"total_trades":  st.TotalTrades,
		"completed":     st.Completed,
		"skipped":       st.Skipped,
		"unknown_pnl":   st.UnknownPnL,
		"total_staked":  st.TotalStaked,
		"total_pnl":     st.TotalPnL,
		"wins":          st.Wins,
		"losses":        st.Losses,
		"first_settled": st.FirstSettled,
		"last_settled":  st.LastSettled,
	})
}

func (s *Server) pnlByCompetition(c *gin.Context) {
	rows, err := s.store.PnLByCompetition(c.Request.Context(), s.strategy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"competition": r.Competition,
			"trades":      r.Trades,
			"staked":      r.Staked,
			"pnl":         r.PnL,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) exposure(c *gin.Context) {
	buckets, err := s.store.ExposureBuckets(c.Request.Context(), s.strategy, exposureBucket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, gin.H{
			"upper_bound_minutes": int(b.UpperBound.Minutes()),
			"trades":              b.Trades,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) trades(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		trades []*domain.Trade
		err    error
	)
	if status := c.Query("status"); status != "" {
		trades, err = s.store.ListTradesByStatus(ctx, domain.TradeStatus(status))
	} else {
		trades, err = s.store.ListTrades(ctx, s.strategy)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeJSON(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) trade(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	t, err := s.store.GetTrade(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tradeJSON(t))
}

func (s *Server) tradeEvents(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	events, err := s.store.ListEvents(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"id":          ev.ID,
			"type":        ev.Type,
			"payload":     ev.Payload,
			"occurred_at": ev.OccurredAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func tradeJSON(t *domain.Trade) gin.H {
	h := gin.H{
		"id":                t.ID,
		"strategy":          t.Strategy,
		"event_id":          t.EventID,
		"competition":       t.Competition,
		"event_name":        t.EventName,
		"kickoff_at":        t.KickoffAt,
		"market_id":         t.MarketID,
		"selection_id":      t.SelectionID,
		"status":            t.Status,
		"phase":             t.Phase.Phase(),
		"back_price":        t.BackPrice,
		"back_stake":        t.BackStake,
		"back_matched_size": t.BackMatchedSize,
		"lay_price":         t.LayPrice,
		"lay_matched_size":  t.LayMatchedSize,
		"pnl_known":         t.PnLKnown,
		"settled_at":        t.SettledAt,
		"updated_at":        t.UpdatedAt,
	}
	if t.PnLKnown {
		h["realised_pnl"] = t.RealisedPnL
	} else {
		// Nunca un cero silencioso: un P&L desconocido sale como null.
		h["realised_pnl"] = nil
	}
	if t.LastError != "" {
		h["last_error"] = t.LastError
	}
	return h
}
