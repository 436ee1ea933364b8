// Package metrics exposes engine instrumentation.
package metrics

// Collector receives engine measurements
type Collector interface {
	RecordSnapshotCreated(seconds float64)
	RecordSnapshotsDeleted(n int)
	RecordAssignment(result string)
	RecordComponentAttempt(variant, status string)
	RecordFlowCompleted()
	RecordFactPublished(factType string)
	RecordOperationError(op, kind string)
}

// Assignment results
const (
	AssignmentCreated  = "created"
	AssignmentConflict = "conflict"
	AssignmentRejected = "rejected"
)
