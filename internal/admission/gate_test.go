package admission

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
	"vigil/internal/signal"
)

func sig(strategy, symbol, id string) *signal.Signal {
	return &signal.Signal{ID: id, Strategy: strategy, Symbol: symbol}
}

func TestGate_MaxOpenPositions(t *testing.T) {
	gate := NewPortfolioGate(config.Static{MaxOpenPositions: 2})
	ctx := context.Background()

	require.NoError(t, gate.Check(ctx, sig("m", "BTCUSDT", "a")))
	gate.Register(sig("m", "BTCUSDT", "a"))
	require.NoError(t, gate.Check(ctx, sig("m", "ETHUSDT", "b")))
	gate.Register(sig("m", "ETHUSDT", "b"))

	err := gate.Check(ctx, sig("m", "SOLUSDT", "c"))
	require.Error(t, err)
	assert.True(t, signal.IsRejection(err))
	assert.Contains(t, err.Error(), "portfolio_full")

	gate.Unregister(sig("m", "BTCUSDT", "a"))
	assert.NoError(t, gate.Check(ctx, sig("m", "SOLUSDT", "c")))
	assert.Equal(t, 1, gate.OpenCount())
}

func TestGate_OnePositionPerKey(t *testing.T) {
	gate := NewPortfolioGate(config.Static{MaxOpenPositions: 10})
	ctx := context.Background()

	gate.Register(sig("m", "BTCUSDT", "a"))
	err := gate.Check(ctx, sig("m", "BTCUSDT", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_occupied")

	// 不同策略同交易对是不同的 key
	assert.NoError(t, gate.Check(ctx, sig("other", "BTCUSDT", "c")))
}

func TestGate_ZeroLimitMeansUnlimited(t *testing.T) {
	gate := NewPortfolioGate(config.Static{MaxOpenPositions: 0})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s := sig("m", fmt.Sprintf("SYM%d", i), fmt.Sprintf("id%d", i))
		require.NoError(t, gate.Check(ctx, s))
		gate.Register(s)
	}
	assert.Equal(t, 100, gate.OpenCount())
}

func TestGate_ConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	gate := NewPortfolioGate(config.Static{MaxOpenPositions: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sig("m", fmt.Sprintf("SYM%d", i), fmt.Sprintf("id%d", i))
			// 真实调用方在 Check 通过后立刻 Register，这里在同一临界区外模拟
			mu.Lock()
			defer mu.Unlock()
			if gate.Check(ctx, s) == nil {
				gate.Register(s)
				admitted++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, admitted)
	assert.Equal(t, 5, gate.OpenCount())
}
