package market

// Candle 是一根已收盘的 K 线。时间戳为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Typical 返回典型价 (H+L+C)/3，VWAP 以它作为单根 K 线的代表价。
func (c Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// ClosedBy 报告该 K 线是否在 ms 时刻（含）之前已收盘。
func (c Candle) ClosedBy(ms int64) bool {
	return c.CloseTime <= ms
}
