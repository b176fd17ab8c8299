package segment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts records and segments as they are written, persisted and
// loaded. A nil *Metrics counts nothing.
type Metrics struct {
	RecordsWritten    *prometheus.CounterVec
	BytesWritten      prometheus.Counter
	SegmentsPersisted prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewMetrics creates the counters and, if reg is non-nil, registers them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_records_written_total",
			Help: "Records written, by record type.",
		}, []string{"type"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_bytes_written_total",
			Help: "Record bytes written, including alignment padding.",
		}),
		SegmentsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_segments_persisted_total",
			Help: "Sealed segments stored through a Persist.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_cache_misses_total",
			Help: "Segment reads that had to load and verify a segment.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RecordsWritten, m.BytesWritten, m.SegmentsPersisted, m.CacheMisses)
	}
	return m
}

func (m *Metrics) recordWritten(t RecordType, n int) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(t.String()).Inc()
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) segmentPersisted() {
	if m == nil {
		return
	}
	m.SegmentsPersisted.Inc()
}

func (m *Metrics) cacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}
