package monitoring

import (
	"sync/atomic"
	"time"
)

// Stats collects process-wide operation counters. It is passed explicitly to
// every component that reports into it; all methods are safe for concurrent
// use.
type Stats struct {
	start          time.Time
	apiCalls       atomic.Int64
	apiErrors      atomic.Int64
	dbOperations   atomic.Int64
	dbErrors       atomic.Int64
	itemsProcessed atomic.Int64
}

func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

func (s *Stats) APICall()       { s.apiCalls.Add(1) }
func (s *Stats) APIError()      { s.apiErrors.Add(1) }
func (s *Stats) DBOperation()   { s.dbOperations.Add(1) }
func (s *Stats) DBError()       { s.dbErrors.Add(1) }
func (s *Stats) ItemProcessed() { s.itemsProcessed.Add(1) }

// Snapshot is a point-in-time view of the counters, serialized by the
// metrics endpoint and the stats websocket stream.
type Snapshot struct {
	APICalls       int64   `json:"api_calls"`
	APIErrors      int64   `json:"api_errors"`
	DBOperations   int64   `json:"db_operations"`
	DBErrors       int64   `json:"db_errors"`
	ItemsProcessed int64   `json:"items_processed"`
	QueueSize      int     `json:"queue_size"`
	StartTime      string  `json:"start_time"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Snapshot captures the current counters. queueSize is supplied by the
// caller because the backfill queue owns that number.
func (s *Stats) Snapshot(queueSize int) Snapshot {
	return Snapshot{
		APICalls:       s.apiCalls.Load(),
		APIErrors:      s.apiErrors.Load(),
		DBOperations:   s.dbOperations.Load(),
		DBErrors:       s.dbErrors.Load(),
		ItemsProcessed: s.itemsProcessed.Load(),
		QueueSize:      queueSize,
		StartTime:      s.start.Format(time.RFC3339),
		UptimeSeconds:  time.Since(s.start).Seconds(),
	}
}
