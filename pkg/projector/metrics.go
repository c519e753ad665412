package projector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
)

const metricsSubsystem = "projector"

// Metrics are the prometheus collectors of a Backend.
type Metrics struct {
	// BlocksTotal counts applied blocks. Labels: kind (lens, change)
	BlocksTotal *prometheus.CounterVec
	// DuplicatesTotal counts blocks skipped because history already has them.
	DuplicatesTotal prometheus.Counter
	// ConversionsTotal counts changes converted into another schema.
	ConversionsTotal prometheus.Counter
	// ReplaysTotal counts rebuilds of instances from history.
	ReplaysTotal prometheus.Counter
	// ErrorsTotal counts failed batches. Labels: reason
	ErrorsTotal *prometheus.CounterVec
	// ApplyDuration measures ApplyChanges.
	ApplyDuration prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "blocks_total",
			Help:      "Blocks appended to history by kind",
		}, []string{"kind"}),
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "duplicate_blocks_total",
			Help:      "Blocks ignored because they were already applied",
		}),
		ConversionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "conversions_total",
			Help:      "Changes converted from one schema into another",
		}),
		ReplaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "replays_total",
			Help:      "Schema instances rebuilt from history",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Rejected batches by reason",
		}, []string{"reason"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying a batch of blocks",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

func (m *Metrics) recordBlock(kind BlockKind) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) recordConversions(n int) {
	if m == nil {
		return
	}
	m.ConversionsTotal.Add(float64(n))
}

func (m *Metrics) recordReplay() {
	if m == nil {
		return
	}
	m.ReplaysTotal.Inc()
}

func (m *Metrics) recordError(err error) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorReason(err)).Inc()
}

func (m *Metrics) observeApply(start time.Time) {
	if m == nil {
		return
	}
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}

var reasons = []struct {
	err    error
	reason string
}{
	{crdt.ErrSequenceMismatch, "sequence"},
	{crdt.ErrMissingDependency, "dependency"},
	{crdt.ErrObjectNotFound, "object_not_found"},
	{crdt.ErrMalformedChange, "malformed"},
	{lens.ErrPathNotFound, "path_not_found"},
	{lens.ErrSchemaNotFound, "schema_not_found"},
	{lens.ErrInvalidLens, "invalid_lens"},
}

func errorReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
