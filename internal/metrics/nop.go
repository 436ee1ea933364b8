package metrics

// NopMetrics discards every measurement.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordSnapshotCreated(_ float64)    {}
func (n *NopMetrics) RecordSnapshotsDeleted(_ int)       {}
func (n *NopMetrics) RecordAssignment(_ string)          {}
func (n *NopMetrics) RecordComponentAttempt(_, _ string) {}
func (n *NopMetrics) RecordFlowCompleted()               {}
func (n *NopMetrics) RecordFactPublished(_ string)       {}
func (n *NopMetrics) RecordOperationError(_, _ string)   {}
