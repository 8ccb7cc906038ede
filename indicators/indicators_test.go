package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genBars(n int, start float64) []Bar {
	bars := make([]Bar, n)
	price := start
	for i := 0; i < n; i++ {
		price += math.Sin(float64(i)/5) * 2
		bars[i] = Bar{
			OpenTime: int64(i * 60),
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price + 0.5,
			Volume:   100 + float64(i%10),
		}
	}
	return bars
}

func TestPipelineDropsWarmupNaN(t *testing.T) {
	bars := genBars(300, 30000)
	frame := Pipeline(bars)
	require.Greater(t, frame.Len(), 0)
	for name, col := range frame.Columns {
		for i, v := range col {
			assert.Falsef(t, math.IsNaN(v), "column %s has NaN at row %d after warm-up drop", name, i)
		}
	}
	assert.Equal(t, frame.Len(), len(frame.Bars))
}

func TestPipelineTooFewBarsYieldsEmptyFrame(t *testing.T) {
	frame := Pipeline(genBars(5, 100))
	assert.Equal(t, 0, frame.Len())
}

func TestEMAWarmupThenTracksPrice(t *testing.T) {
	c := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ema := EMA(c, 3)
	assert.True(t, math.IsNaN(ema[0]))
	assert.True(t, math.IsNaN(ema[1]))
	assert.False(t, math.IsNaN(ema[2]))
	assert.InDelta(t, 9, ema[len(ema)-1], 2)
}

func TestRSIBoundedZeroToHundred(t *testing.T) {
	bars := genBars(100, 100)
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	rsi := RSI(closes, 14)
	for _, v := range rsi {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}
