package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/pkg/circuit"
)

const maxKlineLimit = 1500

// ErrCircuitOpen 表示行情接口处于熔断冷却期，本次请求未发出。
var ErrCircuitOpen = fmt.Errorf("market source circuit open")

// BinanceSource 基于 go-binance SDK 实现 Source。
// 连续失败会触发熔断，冷却期内直接快速失败，避免反复撞限流。
type BinanceSource struct {
	client   *futures.Client
	retryMax int
	breaker  *circuit.Breaker
}

func NewBinanceSource(cfg config.MarketConfig) (*BinanceSource, error) {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	return &BinanceSource{
		client:   client,
		retryMax: retryMax,
		breaker:  circuit.New("binance-rest", 5, 30*time.Second),
	}, nil
}

func (s *BinanceSource) GetKlines(ctx context.Context, symbol, interval string, since int64, limit int) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	if !s.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt < s.retryMax; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			logger.Debugf("klines retry %d/%d %s %s", attempt+1, s.retryMax, symbol, interval)
		}
		svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if since > 0 {
			svc = svc.StartTime(since)
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			lastErr = err
			s.breaker.Failure()
			continue
		}
		s.breaker.Success()
		out := make([]Candle, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("klines %s %s: retries exhausted: %w", symbol, interval, lastErr)
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
