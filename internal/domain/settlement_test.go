package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_FullGreenUp(t *testing.T) {
	// Entrada 50@2.70, hedge objetivo 2.46, green-up 54.88: ambas patas
	// quedan prácticamente igualadas y la comisión se aplica al beneficio.
	in := SettleInput{
		BackStake:  50,
		BackPrice:  2.70,
		Hedge:      &HedgeFill{Size: 54.88, Price: 2.46},
		Commission: 0.05,
	}
	res := Settle(in)
	require.True(t, res.Known)

	winLeg := 50*1.70 - 54.88*1.46
	loseLeg := 54.88 - 50.0
	want := winLeg
	if loseLeg < winLeg {
		want = loseLeg
	}
	want *= 0.95
	assert.InDelta(t, want, res.PnL, 0.001)
	assert.Greater(t, res.PnL, 0.0)
}

func TestSettle_PartialHedgeTakesWorseLeg(t *testing.T) {
	// Solo la mitad del hedge entró: la pata perdedora es claramente peor.
	in := SettleInput{
		BackStake:  50,
		BackPrice:  2.70,
		Hedge:      &HedgeFill{Size: 27, Price: 2.46},
		Commission: 0.05,
	}
	res := Settle(in)
	require.True(t, res.Known)

	loseLeg := 27.0 - 50.0 // -23, pérdida si la selección no gana
	assert.InDelta(t, loseLeg, res.PnL, 0.001)
	assert.Less(t, res.PnL, 0.0)
}

func TestSettle_VerifiedZeroHedgeOnClosedMarket(t *testing.T) {
	res := Settle(SettleInput{
		BackStake:         50,
		BackPrice:         2.70,
		HedgeVerifiedZero: true,
		MarketClosed:      true,
		Commission:        0.05,
	})
	require.True(t, res.Known)
	assert.Equal(t, -50.0, res.PnL)
}

// Datos de hedge ausentes (no verificados a cero) nunca producen un cero
// silencioso: el resultado es explícitamente desconocido.
func TestSettle_MissingHedgeDataIsUnknown(t *testing.T) {
	res := Settle(SettleInput{BackStake: 50, BackPrice: 2.70, MarketClosed: true})
	assert.False(t, res.Known)
	assert.Equal(t, 0.0, res.PnL)

	res = Settle(SettleInput{BackStake: 50, BackPrice: 2.70, HedgeVerifiedZero: true, MarketClosed: false})
	assert.False(t, res.Known)
}

func TestSettle_CommissionOnlyOnProfit(t *testing.T) {
	loss := Settle(SettleInput{
		BackStake:  50,
		BackPrice:  2.0,
		Hedge:      &HedgeFill{Size: 40, Price: 2.0},
		Commission: 0.05,
	})
	require.True(t, loss.Known)
	// lose leg = 40 - 50 = -10, sin comisión sobre pérdidas
	assert.InDelta(t, -10.0, loss.PnL, 0.001)
}

func TestWeightedPrice(t *testing.T) {
	// 10@2.0 + 5@2.2 -> 15 @ 2.067 (redondeado a 3 decimales)
	combined := WeightedPrice([]HedgeFill{
		{Size: 10, Price: 2.0},
		{Size: 5, Price: 2.2},
	})
	assert.InDelta(t, 15.0, combined.Size, 0.0001)
	assert.InDelta(t, 2.067, combined.Price, 0.0001)

	// Fills de tamaño cero o negativo se ignoran.
	combined = WeightedPrice([]HedgeFill{{Size: 0, Price: 9}, {Size: 10, Price: 2.0}})
	assert.InDelta(t, 2.0, combined.Price, 0.0001)

	assert.Equal(t, HedgeFill{}, WeightedPrice(nil))
}

func TestHedgeTargetPrice_SnapsToLadder(t *testing.T) {
	// 2.70 / 1.10 = 2.4545... -> 2.46 en la banda de 0.02
	assert.InDelta(t, 2.46, HedgeTargetPrice(2.70, 0.10), 0.0001)
	// 2.00 / 1.10 = 1.818... -> 1.82 en la banda de 0.01
	assert.InDelta(t, 1.82, HedgeTargetPrice(2.00, 0.10), 0.0001)
}

func TestGreenUpSize(t *testing.T) {
	assert.InDelta(t, 54.88, GreenUpSize(50, 2.70, 2.46), 0.001)
	assert.Equal(t, 0.0, GreenUpSize(50, 2.70, 0))
}

func TestRecoveryExitPrice(t *testing.T) {
	// baseline 2.0 + 5% drift = 2.10, ya válido en el ladder
	assert.InDelta(t, 2.10, RecoveryExitPrice(2.0, 0.05), 0.0001)
}
