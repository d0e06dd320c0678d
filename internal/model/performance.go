package model

import "time"

// PerformanceSnapshot holds trailing returns for a symbol as of a date.
type PerformanceSnapshot struct {
	Symbol      string
	Region      string
	AsOf        time.Time
	Close       float64
	Return1W    *float64
	Return1M    *float64
	Return3M    *float64
	Return1Y    *float64
	High52W     float64
	Low52W      float64
	Position52W float64  // 0.0 ~ 1.0
	Excess1Y    *float64 // vs the region benchmark
}
