package store

// PebbleMetrics is a compact view of storage engine metrics exposed on the
// readiness endpoint and the Prometheus collector.
type PebbleMetrics struct {
	WALBytes          uint64
	L0Files           int
	CompactionBacklog uint64
	DiskUsageBytes    uint64
}

// Metrics returns best-effort runtime metrics for the underlying Pebble DB.
func (s *Pebble) Metrics() PebbleMetrics {
	var out PebbleMetrics
	if s == nil || s.db == nil {
		return out
	}
	m := s.db.Metrics()
	if m == nil {
		return out
	}
	out.WALBytes = uint64(m.WAL.Size)
	out.L0Files = int(m.Levels[0].NumFiles)
	out.CompactionBacklog = m.Compact.EstimatedDebt
	out.DiskUsageBytes = m.DiskSpaceUsage()
	return out
}

// WALBytes reports the write-ahead log size for the storage gauges.
func (s *Pebble) WALBytes() uint64 { return s.Metrics().WALBytes }

// DiskUsageBytes reports estimated on-disk size for the storage gauges.
func (s *Pebble) DiskUsageBytes() uint64 { return s.Metrics().DiskUsageBytes }
