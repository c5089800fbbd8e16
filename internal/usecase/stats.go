package usecase

import (
	"sync"
	"time"
)

// Stats summarizes one sync pass.
type Stats struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	TotalUsers     int
	ProcessedUsers int
	EmptyUsers     int
	ErrorUsers     int
	TotalChats     int
	TotalMessages  int
	SkippedChats   int
	FailedChats    int
	RawBytes       int64
	MinimizedBytes int64
}

// SavingsPercent is the share of serialized bytes removed by minimization.
func (s Stats) SavingsPercent() float64 {
	if s.RawBytes <= 0 {
		return 0
	}
	return float64(s.RawBytes-s.MinimizedBytes) / float64(s.RawBytes) * 100
}

// userResult is what syncing one user contributes to the pass.
type userResult struct {
	chats          int
	messages       int
	skipped        int
	failed         int
	rawBytes       int64
	minimizedBytes int64
}

type statsCollector struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsCollector(runID string, started time.Time, users int) *statsCollector {
	return &statsCollector{stats: Stats{RunID: runID, StartedAt: started, TotalUsers: users}}
}

func (c *statsCollector) add(r userResult) {
	c.stats.TotalChats += r.chats
	c.stats.TotalMessages += r.messages
	c.stats.SkippedChats += r.skipped
	c.stats.FailedChats += r.failed
	c.stats.RawBytes += r.rawBytes
	c.stats.MinimizedBytes += r.minimizedBytes
}

func (c *statsCollector) processed(r userResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ProcessedUsers++
	c.add(r)
}

func (c *statsCollector) empty(r userResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.EmptyUsers++
	c.add(r)
}

func (c *statsCollector) errored(r userResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ErrorUsers++
	c.add(r)
}

func (c *statsCollector) snapshot(finished time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Duration = finished.Sub(out.StartedAt)
	return out
}
