package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
	"flowtrack/internal/orderkey"
	"flowtrack/internal/repo"
	"flowtrack/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// EditorService edits draft flows and moves flows through their lifecycle
type EditorService struct {
	store     repo.Store
	validator *schema.Validator
	log       *zap.Logger
	now       func() time.Time
}

func NewEditorService(store repo.Store, validator *schema.Validator, log *zap.Logger) *EditorService {
	return &EditorService{
		store:     store,
		validator: validator,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (s *EditorService) SetClock(now func() time.Time) {
	s.now = now
}

type ComponentInput struct {
	Title        string                 `json:"title"`
	Variant      model.ComponentVariant `json:"variant"`
	Content      json.RawMessage        `json:"content"`
	IsRequired   bool                   `json:"isRequired"`
	MaxAttempts  int                    `json:"maxAttempts"`
	MinimumScore int                    `json:"minimumScore"`
}

type StepInput struct {
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	IsRequired       bool             `json:"isRequired"`
	EstimatedMinutes int              `json:"estimatedMinutes"`
	Components       []ComponentInput `json:"components"`
}

type CreateFlowInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Priority    int                `json:"priority"`
	IsRequired  bool               `json:"isRequired"`
	Settings    model.FlowSettings `json:"settings"`
	Steps       []StepInput        `json:"steps"`
}

// CreateFlow stores a new draft flow. Steps and components get order keys in
// the order given.
func (s *EditorService) CreateFlow(ctx context.Context, input CreateFlowInput) (*model.Flow, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, apperr.InvalidArgument("title is required")
	}
	if input.Settings.DaysPerStep < 0 || input.Settings.DeadlineWarningDays < 0 {
		return nil, apperr.InvalidArgument("flow settings must not be negative")
	}

	now := s.now().UTC()
	flow := &model.Flow{
		ID:          ulid.Make().String(),
		Title:       input.Title,
		Description: input.Description,
		Status:      model.FlowStatusDraft,
		Priority:    input.Priority,
		IsRequired:  input.IsRequired,
		Settings:    input.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	key := ""
	for _, in := range input.Steps {
		next, err := nextKey(key)
		if err != nil {
			return nil, err
		}
		key = next
		step, err := s.buildStep(ctx, flow.ID, key, in)
		if err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, *step)
	}

	if err := s.store.InsertFlow(ctx, flow); err != nil {
		return nil, err
	}
	s.log.Info("Flow created", zap.String("flow_id", flow.ID), zap.Int("steps", len(flow.Steps)))
	return flow, nil
}

// AddStep appends a step to a draft flow.
func (s *EditorService) AddStep(ctx context.Context, flowID string, input StepInput) (*model.Step, error) {
	var step *model.Step
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockSiblings(ctx, flowID); err != nil {
			return err
		}
		flow, err := s.draft(ctx, tx, flowID)
		if err != nil {
			return err
		}
		last := ""
		if n := len(flow.Steps); n > 0 {
			last = flow.Steps[n-1].OrderKey
		}
		key, err := nextKey(last)
		if err != nil {
			return err
		}
		if step, err = s.buildStep(ctx, flow.ID, key, input); err != nil {
			return err
		}
		if err := tx.InsertStep(ctx, step); err != nil {
			return err
		}
		return tx.TouchFlow(ctx, flow.ID, model.Touch(flow.UpdatedAt, s.now()))
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// AddComponent appends a component to a step of a draft flow.
func (s *EditorService) AddComponent(ctx context.Context, stepID string, input ComponentInput) (*model.Component, error) {
	var comp *model.Component
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		flowID, err := tx.LocateStep(ctx, stepID)
		if err != nil {
			return err
		}
		if err := tx.LockSiblings(ctx, stepID); err != nil {
			return err
		}
		flow, err := s.draft(ctx, tx, flowID)
		if err != nil {
			return err
		}
		step, _ := flow.FindStep(stepID)
		last := ""
		if n := len(step.Components); n > 0 {
			last = step.Components[n-1].OrderKey
		}
		key, err := nextKey(last)
		if err != nil {
			return err
		}
		if comp, err = s.buildComponent(ctx, stepID, key, input); err != nil {
			return err
		}
		if err := tx.InsertComponent(ctx, comp); err != nil {
			return err
		}
		return tx.TouchFlow(ctx, flow.ID, model.Touch(flow.UpdatedAt, s.now()))
	})
	if err != nil {
		return nil, err
	}
	return comp, nil
}

// ReorderSibling moves a step or component to index among its siblings.
func (s *EditorService) ReorderSibling(ctx context.Context, itemID string, index int) (string, error) {
	if _, err := s.store.LocateStep(ctx, itemID); err == nil {
		return s.ReorderStep(ctx, itemID, index)
	} else if !apperr.IsNotFound(err) {
		return "", err
	}
	return s.ReorderComponent(ctx, itemID, index)
}

// ReorderStep gives the step a new order key at index within its flow and
// returns the key.
func (s *EditorService) ReorderStep(ctx context.Context, stepID string, index int) (string, error) {
	if index < 0 {
		return "", apperr.InvalidArgument("position must not be negative, got %d", index)
	}
	var key string
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		flowID, err := tx.LocateStep(ctx, stepID)
		if err != nil {
			return err
		}
		if err := tx.LockSiblings(ctx, flowID); err != nil {
			return err
		}
		flow, err := s.draft(ctx, tx, flowID)
		if err != nil {
			return err
		}
		var others []string
		for _, st := range flow.Steps {
			if st.ID != stepID {
				others = append(others, st.OrderKey)
			}
		}
		if key, err = orderkey.ForPosition(others, index); err != nil {
			return err
		}
		return tx.UpdateStepOrderKey(ctx, stepID, key)
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("Step reordered", zap.String("step_id", stepID), zap.Int("index", index), zap.String("order_key", key))
	return key, nil
}

// ReorderComponent gives the component a new order key at index within its
// step and returns the key.
func (s *EditorService) ReorderComponent(ctx context.Context, componentID string, index int) (string, error) {
	if index < 0 {
		return "", apperr.InvalidArgument("position must not be negative, got %d", index)
	}
	var key string
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		flowID, stepID, err := tx.LocateComponent(ctx, componentID)
		if err != nil {
			return err
		}
		if err := tx.LockSiblings(ctx, stepID); err != nil {
			return err
		}
		flow, err := s.draft(ctx, tx, flowID)
		if err != nil {
			return err
		}
		step, _ := flow.FindStep(stepID)
		var others []string
		for _, c := range step.Components {
			if c.ID != componentID {
				others = append(others, c.OrderKey)
			}
		}
		if key, err = orderkey.ForPosition(others, index); err != nil {
			return err
		}
		return tx.UpdateComponentOrderKey(ctx, componentID, key)
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("Component reordered", zap.String("component_id", componentID), zap.Int("index", index), zap.String("order_key", key))
	return key, nil
}

// PublishFlow makes a draft flow assignable.
func (s *EditorService) PublishFlow(ctx context.Context, flowID string) (*model.Flow, error) {
	return s.setStatus(ctx, flowID, model.FlowStatusPublished, func(f *model.Flow) error {
		if f.Status != model.FlowStatusDraft {
			return apperr.PreconditionFailed("flow %s is %s, only drafts can be published", f.ID, f.Status)
		}
		if len(f.Steps) == 0 {
			return apperr.PreconditionFailed("flow %s has no steps", f.ID)
		}
		return nil
	})
}

// ArchiveFlow stops new assignments. Existing assignments keep their snapshot.
func (s *EditorService) ArchiveFlow(ctx context.Context, flowID string) (*model.Flow, error) {
	return s.setStatus(ctx, flowID, model.FlowStatusArchived, func(f *model.Flow) error {
		if f.Status == model.FlowStatusArchived {
			return apperr.PreconditionFailed("flow %s is already archived", f.ID)
		}
		return nil
	})
}

func (s *EditorService) GetFlow(ctx context.Context, flowID string) (*model.Flow, error) {
	return s.store.GetFlow(ctx, flowID)
}

func (s *EditorService) setStatus(ctx context.Context, flowID string, status model.FlowStatus, check func(f *model.Flow) error) (*model.Flow, error) {
	var flow *model.Flow
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockFlow(ctx, flowID); err != nil {
			return err
		}
		f, err := tx.GetFlow(ctx, flowID)
		if err != nil {
			return err
		}
		if err := check(f); err != nil {
			return err
		}
		f.Status = status
		f.UpdatedAt = model.Touch(f.UpdatedAt, s.now().UTC())
		if err := tx.UpdateFlowStatus(ctx, f.ID, f.Status, f.UpdatedAt); err != nil {
			return err
		}
		flow = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Flow status changed", zap.String("flow_id", flow.ID), zap.String("status", string(flow.Status)))
	return flow, nil
}

// draft locks and loads the flow and refuses structural edits unless it is a
// draft. The lock is held until tx ends, so a concurrent publish waits.
func (s *EditorService) draft(ctx context.Context, tx repo.Tx, flowID string) (*model.Flow, error) {
	if err := tx.LockFlow(ctx, flowID); err != nil {
		return nil, err
	}
	flow, err := tx.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !flow.IsDraft() {
		return nil, apperr.PreconditionFailed("published flow: %s is %s", flow.ID, flow.Status)
	}
	return flow, nil
}

func (s *EditorService) buildStep(ctx context.Context, flowID, key string, in StepInput) (*model.Step, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.InvalidArgument("step title is required")
	}
	if in.EstimatedMinutes < 0 {
		return nil, apperr.InvalidArgument("estimatedMinutes must not be negative")
	}
	step := &model.Step{
		ID:               ulid.Make().String(),
		FlowID:           flowID,
		Title:            in.Title,
		Description:      in.Description,
		OrderKey:         key,
		IsRequired:       in.IsRequired,
		EstimatedMinutes: in.EstimatedMinutes,
	}
	compKey := ""
	for _, ci := range in.Components {
		next, err := nextKey(compKey)
		if err != nil {
			return nil, err
		}
		compKey = next
		comp, err := s.buildComponent(ctx, step.ID, compKey, ci)
		if err != nil {
			return nil, err
		}
		step.Components = append(step.Components, *comp)
	}
	return step, nil
}

func (s *EditorService) buildComponent(ctx context.Context, stepID, key string, in ComponentInput) (*model.Component, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.InvalidArgument("component title is required")
	}
	if !in.Variant.Valid() {
		return nil, apperr.InvalidArgument("unknown component variant %q", in.Variant)
	}
	if in.MaxAttempts < 0 || in.MinimumScore < 0 {
		return nil, apperr.InvalidArgument("maxAttempts and minimumScore must not be negative")
	}
	if err := s.validator.ValidateContent(ctx, in.Variant, in.Content); err != nil {
		return nil, err
	}
	content, err := model.DecodeContent(in.Variant, in.Content)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "malformed %s content", in.Variant)
	}
	return &model.Component{
		ID:           ulid.Make().String(),
		StepID:       stepID,
		Title:        in.Title,
		Variant:      in.Variant,
		Content:      content,
		OrderKey:     key,
		IsRequired:   in.IsRequired,
		MaxAttempts:  in.MaxAttempts,
		MinimumScore: in.MinimumScore,
	}, nil
}

// nextKey returns the key after last, or the initial key for an empty list.
func nextKey(last string) (string, error) {
	if last == "" {
		return orderkey.Initial(), nil
	}
	key, err := orderkey.Next(last)
	if err != nil {
		return "", fmt.Errorf("failed to extend order keys after %q: %w", last, err)
	}
	return key, nil
}
