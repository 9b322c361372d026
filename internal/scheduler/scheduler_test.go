package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1m", time.Minute, true},
		{"15m", 15 * time.Minute, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 30S ", 30 * time.Second, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"10x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestTicks_FiresRepeatedly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := Ticks(ctx, 0, 20*time.Millisecond, 0)
	for i := 0; i < 3; i++ {
		select {
		case _, ok := <-ticks:
			require.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not arrive", i)
		}
	}
}

func TestTicks_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticks := Ticks(ctx, time.Hour, time.Hour, 0)
	cancel()

	select {
	case _, ok := <-ticks:
		assert.False(t, ok, "channel should be closed without a tick")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
