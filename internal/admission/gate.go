package admission

import (
	"context"
	"sync"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/signal"
)

// PortfolioGate 在组合层面串行化准入判断。
// 两条规则：每个（策略，交易对）最多一个在途持仓；全组合持仓数不超过上限。
// 上限每次调用都从 Provider 读取，配置热更新即时生效。
type PortfolioGate struct {
	mu   sync.Mutex
	cfg  config.Provider
	open map[signal.Key]string
}

func NewPortfolioGate(cfg config.Provider) *PortfolioGate {
	return &PortfolioGate{cfg: cfg, open: make(map[signal.Key]string)}
}

func (g *PortfolioGate) Check(_ context.Context, sig *signal.Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := signal.Key{Strategy: sig.Strategy, Symbol: sig.Symbol}
	if id, ok := g.open[key]; ok {
		return &signal.RejectionError{
			Code:   "key_occupied",
			Reason: "key " + key.String() + " already holds open signal " + id,
		}
	}
	if max := g.cfg.Trading().MaxOpenPositions; max > 0 && len(g.open) >= max {
		return &signal.RejectionError{
			Code:   "portfolio_full",
			Reason: "portfolio already holds the maximum number of open positions",
		}
	}
	return nil
}

func (g *PortfolioGate) Register(sig *signal.Signal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := signal.Key{Strategy: sig.Strategy, Symbol: sig.Symbol}
	if prev, ok := g.open[key]; ok && prev != sig.ID {
		logger.Warnf("gate: %s replacing tracked signal %s with %s", key, prev, sig.ID)
	}
	g.open[key] = sig.ID
}

func (g *PortfolioGate) Unregister(sig *signal.Signal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.open, signal.Key{Strategy: sig.Strategy, Symbol: sig.Symbol})
}

// OpenCount 返回当前登记的持仓数，供状态接口展示。
func (g *PortfolioGate) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open)
}
