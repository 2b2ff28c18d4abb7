package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := NewFakeClock(start)
	ticker := clk.NewTicker(time.Minute)

	clk.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticked before the period elapsed")
	default:
	}

	clk.Advance(30 * time.Second)
	select {
	case at := <-ticker.C():
		require.Equal(t, start.Add(time.Minute), at)
	default:
		t.Fatal("expected a tick")
	}

	// A full channel drops ticks instead of queueing them.
	clk.Advance(time.Minute)
	clk.Advance(time.Minute)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("ticks should not queue")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	clk := NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ticker := clk.NewTicker(time.Second)
	require.Equal(t, 1, clk.Tickers())

	ticker.Stop()
	clk.Advance(time.Hour)
	require.Zero(t, clk.Tickers())
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
