package service

import (
	"sync"
	"time"
)

// Op names a request-surface operation for metrics and logging.
type Op string

const (
	OpDeposit           Op = "deposit"
	OpWithdraw          Op = "withdraw"
	OpTransfer          Op = "transfer"
	OpChangeOwner       Op = "change_owner"
	OpRegisterCandidate Op = "register_candidate"
	OpVote              Op = "vote"
	OpFindWinner        Op = "find_winner"
	OpExecute           Op = "execute"
	OpDivide            Op = "divide"
	OpRegister          Op = "register"
	OpVerifyUser        Op = "verify_user"
	OpIsLuckyWinner     Op = "is_lucky_winner"
)

// MetricsCollector tracks per-operation counts and processing time.
type MetricsCollector struct {
	mu    sync.RWMutex
	stats map[Op]*operationStats
}

type operationStats struct {
	count     int
	failures  int
	totalTime time.Duration
}

// OperationMetrics contains the externally visible numbers for one operation.
type OperationMetrics struct {
	Count          int   `json:"count"`
	Failures       int   `json:"failures"`
	ProcessingTime int64 `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations seen so far.
type MetricsResponse map[Op]OperationMetrics

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		stats: make(map[Op]*operationStats),
	}
}

// Record adds one finished operation.
func (mc *MetricsCollector) Record(op Op, start time.Time, failed bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	stats, ok := mc.stats[op]
	if !ok {
		stats = &operationStats{}
		mc.stats[op] = stats
	}
	stats.count++
	if failed {
		stats.failures++
	}
	stats.totalTime += time.Since(start)
}

// Snapshot returns the current metrics.
func (mc *MetricsCollector) Snapshot() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	response := make(MetricsResponse, len(mc.stats))
	for op, stats := range mc.stats {
		response[op] = OperationMetrics{
			Count:          stats.count,
			Failures:       stats.failures,
			ProcessingTime: stats.totalTime.Milliseconds(),
		}
	}
	return response
}
