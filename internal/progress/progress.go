// Package progress tracks byte counts and throughput for in-flight file
// transfers on both the send and receive side.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds transfer statistics. Transferred is updated atomically so a
// sender goroutine and a reporting reader never race.
type Stats struct {
	TotalBytes  int64
	Filename    string
	StartTime   time.Time
	transferred atomic.Int64
}

// NewStats starts tracking a transfer of total bytes.
func NewStats(filename string, total int64) *Stats {
	return &Stats{
		TotalBytes: total,
		Filename:   filename,
		StartTime:  time.Now(),
	}
}

// Add records n more transferred bytes and returns the new total.
func (s *Stats) Add(n int64) int64 {
	return s.transferred.Add(n)
}

// Transferred returns the bytes moved so far.
func (s *Stats) Transferred() int64 {
	return s.transferred.Load()
}

// Complete reports whether the declared size has been reached. Declared
// size is advisory: completion is strictly received >= declared.
func (s *Stats) Complete() bool {
	return s.transferred.Load() >= s.TotalBytes
}

// Elapsed returns time since the transfer started.
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// Rate returns the average throughput in bytes per second.
func (s *Stats) Rate() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.transferred.Load()) / elapsed
}

// Summary renders a human-readable completion line for chat notices.
func (s *Stats) Summary() string {
	return fmt.Sprintf("%s (%s in %s, %s/s)",
		s.Filename,
		formatBytes(s.transferred.Load()),
		s.Elapsed().Round(time.Millisecond),
		formatBytes(int64(s.Rate())))
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
