package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShadowTrack_TracksMinimumUntilFrozen(t *testing.T) {
	start := time.Date(2026, 3, 14, 20, 30, 0, 0, time.UTC)
	track := NewShadowTrack(start, 2.7)
	window := 45 * time.Minute

	track.Observe(start.Add(1*time.Minute), 2.5, window, false)
	track.Observe(start.Add(2*time.Minute), 2.3, window, false)
	track.Observe(start.Add(3*time.Minute), 2.6, window, false)
	assert.InDelta(t, 2.3, track.BestPrice, 0.0001)
	assert.InDelta(t, 2.6, track.LastPrice, 0.0001)

	// Un segundo trigger teórico congela el mínimo: el drift posterior ya no
	// puede inflar la oportunidad observada.
	track.Freeze()
	track.Observe(start.Add(4*time.Minute), 2.0, window, false)
	assert.InDelta(t, 2.3, track.BestPrice, 0.0001)
	assert.InDelta(t, 2.0, track.LastPrice, 0.0001)
}

func TestShadowTrack_DoneExactlyOnce(t *testing.T) {
	start := time.Now().UTC()
	track := NewShadowTrack(start, 2.7)

	assert.False(t, track.Observe(start.Add(time.Minute), 2.5, 45*time.Minute, false))
	assert.True(t, track.Observe(start.Add(time.Minute), 2.5, 45*time.Minute, true)) // market closed
	assert.True(t, track.Done)
	// Subsequent observations are inert.
	assert.False(t, track.Observe(start.Add(2*time.Minute), 2.5, 45*time.Minute, true))
}

func TestShadowTrack_WindowElapses(t *testing.T) {
	start := time.Now().UTC()
	track := NewShadowTrack(start, 2.7)
	assert.True(t, track.Observe(start.Add(46*time.Minute), 2.5, 45*time.Minute, false))
}

func TestShadowTrack_TheoreticalEdge(t *testing.T) {
	track := ShadowTrack{EntryPrice: 2.7, BestPrice: 2.43}
	assert.InDelta(t, 0.10, track.TheoreticalEdge(), 0.0001)

	assert.Equal(t, 0.0, (&ShadowTrack{EntryPrice: 2.7}).TheoreticalEdge())
	assert.Equal(t, 0.0, (&ShadowTrack{BestPrice: 2.4}).TheoreticalEdge())
}
