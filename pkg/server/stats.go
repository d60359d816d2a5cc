package server

import (
	"context"
	"time"

	"github.com/prometheus/procfs"
)

// Stats is a point-in-time view of server load.
type Stats struct {
	RegistryStats
	// ResidentBytes is zero where /proc is unavailable.
	ResidentBytes int
	CPUSeconds    float64
}

// Stats samples live rooms and process usage.
func (s *Server) Stats() Stats {
	st := Stats{RegistryStats: s.registry.Stats()}
	p, err := procfs.Self()
	if err != nil {
		return st
	}
	ps, err := p.Stat()
	if err != nil {
		return st
	}
	st.ResidentBytes = ps.ResidentMemory()
	st.CPUSeconds = ps.CPUTime()
	return st
}

// RunStats logs Stats every interval until ctx ends.
func (s *Server) RunStats(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := s.Stats()
			s.log.Infof("Rooms %d, countdowns %d, sessions %d, rss %d KiB, cpu %.1fs",
				st.Rooms, st.Countdowns, st.Subscribers, st.ResidentBytes/1024, st.CPUSeconds)
		}
	}
}
