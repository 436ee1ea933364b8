package service

import (
	"context"
	"fmt"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/orderkey"
	"flowtrack/internal/repo"
	"flowtrack/internal/schema"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SnapshotService freezes flows into immutable versioned snapshots
type SnapshotService struct {
	store     repo.Store
	validator *schema.Validator
	metrics   metrics.Collector
	log       *zap.Logger
	now       func() time.Time

	cache *expirable.LRU[string, *model.FlowSnapshot]
	group singleflight.Group
}

func NewSnapshotService(store repo.Store, validator *schema.Validator, collector metrics.Collector, log *zap.Logger) *SnapshotService {
	return &SnapshotService{
		store:     store,
		validator: validator,
		metrics:   collector,
		log:       log,
		now:       time.Now,
		cache:     expirable.NewLRU[string, *model.FlowSnapshot](256, nil, 30*time.Minute),
	}
}

// SetClock replaces the time source
func (s *SnapshotService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateSnapshot copies the flow graph into the next snapshot version.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, flowID string) (*model.FlowSnapshot, error) {
	if flowID == "" {
		return nil, apperr.InvalidArgument("flow id is required")
	}

	var snapshot *model.FlowSnapshot
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		flow, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		snapshot, err = s.CreateSnapshotTx(ctx, tx, flow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CreateSnapshotTx writes the snapshot inside the caller's transaction. The
// version lock is held until that transaction ends.
func (s *SnapshotService) CreateSnapshotTx(ctx context.Context, tx repo.Tx, flow *model.Flow) (*model.FlowSnapshot, error) {
	if flow == nil {
		return nil, apperr.InvalidArgument("flow is required")
	}
	started := time.Now()

	if err := tx.LockFlowSnapshots(ctx, flow.ID); err != nil {
		return nil, err
	}
	latest, err := tx.MaxSnapshotVersion(ctx, flow.ID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.build(ctx, flow, latest+1)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	s.metrics.RecordSnapshotCreated(time.Since(started).Seconds())
	s.log.Info("Snapshot created",
		zap.String("flow_id", flow.ID),
		zap.String("snapshot_id", snapshot.ID),
		zap.Int("version", snapshot.Version),
		zap.Int("steps", len(snapshot.Steps)),
	)
	return snapshot, nil
}

// build walks steps and components in order-key order.
func (s *SnapshotService) build(ctx context.Context, flow *model.Flow, version int) (*model.FlowSnapshot, error) {
	now := s.now().UTC()
	snapshot := &model.FlowSnapshot{
		ID:             ulid.Make().String(),
		OriginalFlowID: flow.ID,
		Version:        version,
		Title:          flow.Title,
		Description:    flow.Description,
		Priority:       flow.Priority,
		IsRequired:     flow.IsRequired,
		Settings:       flow.Settings,
		CreatedAt:      now,
	}

	for _, step := range flow.OrderedSteps() {
		stepSnap := model.StepSnapshot{
			ID:               ulid.Make().String(),
			FlowSnapshotID:   snapshot.ID,
			OriginalStepID:   step.ID,
			Title:            step.Title,
			Description:      step.Description,
			OrderKey:         step.OrderKey,
			IsRequired:       step.IsRequired,
			EstimatedMinutes: step.EstimatedMinutes,
			CreatedAt:        now,
		}
		for _, comp := range step.OrderedComponents() {
			if comp.Content == nil || comp.Content.Variant() != comp.Variant {
				return nil, apperr.InvalidArgument("component %s content does not match variant %q", comp.ID, comp.Variant)
			}
			raw, err := model.EncodeContent(comp.Content)
			if err != nil {
				return nil, fmt.Errorf("failed to encode component %s: %w", comp.ID, err)
			}
			if err := s.validator.ValidateContent(ctx, comp.Variant, raw); err != nil {
				return nil, err
			}
			stepSnap.Components = append(stepSnap.Components, model.ComponentSnapshot{
				ID:                  ulid.Make().String(),
				StepSnapshotID:      stepSnap.ID,
				OriginalComponentID: comp.ID,
				Title:               comp.Title,
				Variant:             comp.Variant,
				Content:             raw,
				OrderKey:            comp.OrderKey,
				IsRequired:          comp.IsRequired,
				MaxAttempts:         comp.MaxAttempts,
				MinimumScore:        comp.MinimumScore,
				CreatedAt:           now,
			})
		}
		snapshot.Steps = append(snapshot.Steps, stepSnap)
	}
	return snapshot, nil
}

// GetSnapshot returns a snapshot, served from cache once loaded.
// Callers must not mutate the result.
func (s *SnapshotService) GetSnapshot(ctx context.Context, id string) (*model.FlowSnapshot, error) {
	if snapshot, ok := s.cache.Get(id); ok {
		return snapshot, nil
	}
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		snapshot, err := s.store.GetSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.FlowSnapshot), nil
}

func (s *SnapshotService) GetSnapshotByAssignment(ctx context.Context, assignmentID string) (*model.FlowSnapshot, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return s.GetSnapshot(ctx, a.FlowSnapshotID)
}

func (s *SnapshotService) ListVersions(ctx context.Context, flowID string) ([]model.SnapshotInfo, error) {
	return s.store.ListSnapshotVersions(ctx, flowID)
}

// IntegrityReport is a diagnostic result, not an error
type IntegrityReport struct {
	SnapshotID string   `json:"snapshotId"`
	Valid      bool     `json:"valid"`
	Reasons    []string `json:"reasons,omitempty"`
}

// ValidateIntegrity checks that the snapshot exists, has a title and that
// order keys are valid and unique among siblings.
func (s *SnapshotService) ValidateIntegrity(ctx context.Context, id string) (*IntegrityReport, error) {
	report := &IntegrityReport{SnapshotID: id}
	snapshot, err := s.store.GetSnapshot(ctx, id)
	if apperr.IsNotFound(err) {
		report.Reasons = append(report.Reasons, "snapshot not found")
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	if snapshot.Title == "" {
		report.Reasons = append(report.Reasons, "empty title")
	}
	if snapshot.Version < 1 {
		report.Reasons = append(report.Reasons, fmt.Sprintf("invalid version %d", snapshot.Version))
	}

	stepKeys := make(map[string]string, len(snapshot.Steps))
	for _, step := range snapshot.Steps {
		if err := orderkey.Validate(step.OrderKey); err != nil {
			report.Reasons = append(report.Reasons, fmt.Sprintf("step %s: %v", step.ID, err))
		}
		if other, dup := stepKeys[step.OrderKey]; dup {
			report.Reasons = append(report.Reasons, fmt.Sprintf("steps %s and %s share order key %q", other, step.ID, step.OrderKey))
		}
		stepKeys[step.OrderKey] = step.ID

		compKeys := make(map[string]string, len(step.Components))
		for _, comp := range step.Components {
			if comp.StepSnapshotID != step.ID {
				report.Reasons = append(report.Reasons, fmt.Sprintf("component %s points at step %s", comp.ID, comp.StepSnapshotID))
			}
			if err := orderkey.Validate(comp.OrderKey); err != nil {
				report.Reasons = append(report.Reasons, fmt.Sprintf("component %s: %v", comp.ID, err))
			}
			if other, dup := compKeys[comp.OrderKey]; dup {
				report.Reasons = append(report.Reasons, fmt.Sprintf("components %s and %s share order key %q in step %s", other, comp.ID, comp.OrderKey, step.ID))
			}
			compKeys[comp.OrderKey] = comp.ID
		}
	}

	report.Valid = len(report.Reasons) == 0
	return report, nil
}

// CleanupResult lists the snapshots removed by a retention run
type CleanupResult struct {
	Deleted []string `json:"deleted"`
}

// CleanupOldSnapshots deletes snapshots created more than olderThanDays ago,
// oldest first. The newest keepMinimum versions of every flow are kept, as is
// any snapshot an assignment still points at.
func (s *SnapshotService) CleanupOldSnapshots(ctx context.Context, olderThanDays, keepMinimum int) (*CleanupResult, error) {
	if olderThanDays < 0 {
		return nil, apperr.InvalidArgument("olderThanDays must not be negative, got %d", olderThanDays)
	}
	if keepMinimum < 0 {
		return nil, apperr.InvalidArgument("keepMinimum must not be negative, got %d", keepMinimum)
	}

	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	candidates, err := s.store.ListSnapshotsCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	byFlow := make(map[string][]model.SnapshotInfo)
	var order []string
	for _, c := range candidates {
		if _, seen := byFlow[c.OriginalFlowID]; !seen {
			order = append(order, c.OriginalFlowID)
		}
		byFlow[c.OriginalFlowID] = append(byFlow[c.OriginalFlowID], c)
	}

	result := &CleanupResult{Deleted: []string{}}
	for _, flowID := range order {
		deleted, err := s.cleanupFlow(ctx, flowID, byFlow[flowID], keepMinimum)
		if err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, deleted...)
	}

	for _, id := range result.Deleted {
		s.cache.Remove(id)
	}
	s.metrics.RecordSnapshotsDeleted(len(result.Deleted))
	s.log.Info("Snapshot cleanup finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Time("cutoff", cutoff),
	)
	return result, nil
}

func (s *SnapshotService) cleanupFlow(ctx context.Context, flowID string, candidates []model.SnapshotInfo, keepMinimum int) ([]string, error) {
	var deleted []string
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		deleted = nil
		if err := tx.LockFlowSnapshots(ctx, flowID); err != nil {
			return err
		}
		versions, err := tx.ListSnapshotVersions(ctx, flowID)
		if err != nil {
			return err
		}

		protected := make(map[string]bool, keepMinimum)
		for i := len(versions) - 1; i >= 0 && len(versions)-i <= keepMinimum; i-- {
			protected[versions[i].ID] = true
		}

		remaining := len(versions)
		for _, c := range candidates {
			if protected[c.ID] || remaining <= keepMinimum {
				continue
			}
			referenced, err := tx.SnapshotReferenced(ctx, c.ID)
			if err != nil {
				return err
			}
			if referenced {
				continue
			}
			if err := tx.DeleteSnapshot(ctx, c.ID); err != nil {
				return err
			}
			deleted = append(deleted, c.ID)
			remaining--
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clean up snapshots of flow %s: %w", flowID, err)
	}
	return deleted, nil
}
