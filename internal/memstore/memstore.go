// Package memstore is an in-memory repo.Store.
//
// Transactions run one at a time against a private copy of the state and
// swap it in on commit, so a failed or cancelled transaction leaves nothing
// behind. Lock methods are satisfied by that serialization.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
	"flowtrack/internal/repo"
)

type state struct {
	flows        map[string]*model.Flow
	snapshots    map[string]*model.FlowSnapshot
	assignments  map[string]model.Assignment
	components   map[string]model.ComponentProgress
	steps        map[string]model.StepProgress
	flowProgress map[string]model.FlowProgress
}

func newState() *state {
	return &state{
		flows:        make(map[string]*model.Flow),
		snapshots:    make(map[string]*model.FlowSnapshot),
		assignments:  make(map[string]model.Assignment),
		components:   make(map[string]model.ComponentProgress),
		steps:        make(map[string]model.StepProgress),
		flowProgress: make(map[string]model.FlowProgress),
	}
}

// clone copies the maps. Flows and snapshots are replaced, never mutated in place.
func (s *state) clone() *state {
	out := newState()
	for k, v := range s.flows {
		out.flows[k] = v
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = v
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	for k, v := range s.components {
		out.components[k] = v
	}
	for k, v := range s.steps {
		out.steps[k] = v
	}
	for k, v := range s.flowProgress {
		out.flowProgress[k] = v
	}
	return out
}

// Store is a process-local repo.Store
type Store struct {
	*view

	mu    sync.RWMutex
	txMu  sync.Mutex
	state *state
}

// New returns an empty store.
func New() *Store {
	s := &Store{state: newState()}
	s.view = &view{
		get: func() *state { return s.state },
		read: func() func() {
			s.mu.RLock()
			return s.mu.RUnlock
		},
		write: func() func() {
			s.txMu.Lock()
			s.mu.Lock()
			return func() {
				s.mu.Unlock()
				s.txMu.Unlock()
			}
		},
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// WithinTx runs fn against a private copy of the state and commits it if fn
// succeeds and ctx is still live.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	noop := func() func() { return func() {} }
	t := &tx{view: &view{get: func() *state { return working }, read: noop, write: noop}}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

type tx struct {
	*view
}

func (t *tx) LockFlowSnapshots(ctx context.Context, _ string) error     { return ctx.Err() }
func (t *tx) LockAssignmentPair(ctx context.Context, _, _ string) error { return ctx.Err() }
func (t *tx) LockSiblings(ctx context.Context, _ string) error          { return ctx.Err() }
func (t *tx) LockFlowProgress(ctx context.Context, _ string) error      { return ctx.Err() }
func (t *tx) LockFlow(ctx context.Context, _ string) error              { return ctx.Err() }
func (t *tx) LockAssignment(ctx context.Context, _ string) error        { return ctx.Err() }

// view implements repo.Repositories over a state with pluggable locking
type view struct {
	get   func() *state
	read  func() (unlock func())
	write func() (unlock func())
}

// Flows

func (v *view) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	defer v.read()()
	f, ok := v.get().flows[id]
	if !ok {
		return nil, apperr.NotFound("flow %s not found", id)
	}
	out := f.Clone()
	sort.SliceStable(out.Steps, func(i, j int) bool { return out.Steps[i].OrderKey < out.Steps[j].OrderKey })
	for i := range out.Steps {
		comps := out.Steps[i].Components
		sort.SliceStable(comps, func(a, b int) bool { return comps[a].OrderKey < comps[b].OrderKey })
	}
	return out, nil
}

func (v *view) InsertFlow(ctx context.Context, flow *model.Flow) error {
	defer v.write()()
	st := v.get()
	if _, ok := st.flows[flow.ID]; ok {
		return apperr.Conflict("flow %s already exists", flow.ID)
	}
	st.flows[flow.ID] = flow.Clone()
	return nil
}

func (v *view) InsertStep(ctx context.Context, step *model.Step) error {
	defer v.write()()
	st := v.get()
	f, ok := st.flows[step.FlowID]
	if !ok {
		return apperr.NotFound("flow %s not found", step.FlowID)
	}
	for _, s := range f.Steps {
		if s.ID == step.ID {
			return apperr.Conflict("step %s already exists", step.ID)
		}
		if s.OrderKey == step.OrderKey {
			return apperr.Conflict("order key %q already used in flow %s", step.OrderKey, f.ID)
		}
	}
	next := f.Clone()
	s := *step
	s.Components = append([]model.Component(nil), step.Components...)
	next.Steps = append(next.Steps, s)
	st.flows[f.ID] = next
	return nil
}

func (v *view) InsertComponent(ctx context.Context, component *model.Component) error {
	defer v.write()()
	st := v.get()
	for id, f := range st.flows {
		step, ok := f.FindStep(component.StepID)
		if !ok {
			continue
		}
		for _, c := range step.Components {
			if c.ID == component.ID {
				return apperr.Conflict("component %s already exists", component.ID)
			}
			if c.OrderKey == component.OrderKey {
				return apperr.Conflict("order key %q already used in step %s", component.OrderKey, step.ID)
			}
		}
		next := f.Clone()
		target, _ := next.FindStep(component.StepID)
		target.Components = append(target.Components, *component)
		st.flows[id] = next
		return nil
	}
	return apperr.NotFound("step %s not found", component.StepID)
}

func (v *view) UpdateFlowStatus(ctx context.Context, id string, status model.FlowStatus, updatedAt time.Time) error {
	defer v.write()()
	st := v.get()
	f, ok := st.flows[id]
	if !ok {
		return apperr.NotFound("flow %s not found", id)
	}
	next := f.Clone()
	next.Status = status
	next.UpdatedAt = updatedAt
	st.flows[id] = next
	return nil
}

func (v *view) TouchFlow(ctx context.Context, id string, updatedAt time.Time) error {
	defer v.write()()
	st := v.get()
	f, ok := st.flows[id]
	if !ok {
		return apperr.NotFound("flow %s not found", id)
	}
	if !updatedAt.After(f.UpdatedAt) {
		return nil
	}
	next := f.Clone()
	next.UpdatedAt = updatedAt
	st.flows[id] = next
	return nil
}

func (v *view) LocateStep(ctx context.Context, stepID string) (string, error) {
	defer v.read()()
	for _, f := range v.get().flows {
		if _, ok := f.FindStep(stepID); ok {
			return f.ID, nil
		}
	}
	return "", apperr.NotFound("step %s not found", stepID)
}

func (v *view) LocateComponent(ctx context.Context, componentID string) (string, string, error) {
	defer v.read()()
	for _, f := range v.get().flows {
		if step, _, ok := f.FindComponent(componentID); ok {
			return f.ID, step.ID, nil
		}
	}
	return "", "", apperr.NotFound("component %s not found", componentID)
}

func (v *view) UpdateStepOrderKey(ctx context.Context, stepID, key string) error {
	defer v.write()()
	st := v.get()
	for id, f := range st.flows {
		if _, ok := f.FindStep(stepID); !ok {
			continue
		}
		for _, s := range f.Steps {
			if s.ID != stepID && s.OrderKey == key {
				return apperr.Conflict("order key %q already used in flow %s", key, f.ID)
			}
		}
		next := f.Clone()
		step, _ := next.FindStep(stepID)
		step.SetOrderKey(key)
		st.flows[id] = next
		return nil
	}
	return apperr.NotFound("step %s not found", stepID)
}

func (v *view) UpdateComponentOrderKey(ctx context.Context, componentID, key string) error {
	defer v.write()()
	st := v.get()
	for id, f := range st.flows {
		step, _, ok := f.FindComponent(componentID)
		if !ok {
			continue
		}
		for _, c := range step.Components {
			if c.ID != componentID && c.OrderKey == key {
				return apperr.Conflict("order key %q already used in step %s", key, step.ID)
			}
		}
		next := f.Clone()
		_, comp, _ := next.FindComponent(componentID)
		comp.SetOrderKey(key)
		st.flows[id] = next
		return nil
	}
	return apperr.NotFound("component %s not found", componentID)
}

// Snapshots

func (v *view) MaxSnapshotVersion(ctx context.Context, originalFlowID string) (int, error) {
	defer v.read()()
	highest := 0
	for _, s := range v.get().snapshots {
		if s.OriginalFlowID == originalFlowID && s.Version > highest {
			highest = s.Version
		}
	}
	return highest, nil
}

func (v *view) InsertSnapshot(ctx context.Context, snapshot *model.FlowSnapshot) error {
	defer v.write()()
	st := v.get()
	for _, s := range st.snapshots {
		if s.OriginalFlowID == snapshot.OriginalFlowID && s.Version == snapshot.Version {
			return apperr.Conflict("snapshot version %d of flow %s already exists", snapshot.Version, snapshot.OriginalFlowID)
		}
	}
	st.snapshots[snapshot.ID] = snapshot.Clone()
	return nil
}

func (v *view) GetSnapshot(ctx context.Context, id string) (*model.FlowSnapshot, error) {
	defer v.read()()
	s, ok := v.get().snapshots[id]
	if !ok {
		return nil, apperr.NotFound("snapshot %s not found", id)
	}
	return s.Clone(), nil
}

func (v *view) GetSnapshotByAssignment(ctx context.Context, assignmentID string) (*model.FlowSnapshot, error) {
	defer v.read()()
	st := v.get()
	a, ok := st.assignments[assignmentID]
	if !ok {
		return nil, apperr.NotFound("assignment %s not found", assignmentID)
	}
	s, ok := st.snapshots[a.FlowSnapshotID]
	if !ok {
		return nil, apperr.NotFound("snapshot %s not found", a.FlowSnapshotID)
	}
	return s.Clone(), nil
}

func (v *view) ListSnapshotVersions(ctx context.Context, originalFlowID string) ([]model.SnapshotInfo, error) {
	defer v.read()()
	var out []model.SnapshotInfo
	for _, s := range v.get().snapshots {
		if s.OriginalFlowID == originalFlowID {
			out = append(out, s.Info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (v *view) ListSnapshotsCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SnapshotInfo, error) {
	defer v.read()()
	var out []model.SnapshotInfo
	for _, s := range v.get().snapshots {
		if s.CreatedAt.Before(cutoff) {
			out = append(out, s.Info())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version < out[j].Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v *view) SnapshotReferenced(ctx context.Context, snapshotID string) (bool, error) {
	defer v.read()()
	for _, a := range v.get().assignments {
		if a.FlowSnapshotID == snapshotID {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) DeleteSnapshot(ctx context.Context, id string) error {
	defer v.write()()
	st := v.get()
	if _, ok := st.snapshots[id]; !ok {
		return apperr.NotFound("snapshot %s not found", id)
	}
	for _, a := range st.assignments {
		if a.FlowSnapshotID == id {
			return apperr.Conflict("snapshot %s is referenced by assignment %s", id, a.ID)
		}
	}
	delete(st.snapshots, id)
	return nil
}

// Assignments

func (v *view) GetActiveAssignment(ctx context.Context, userID, flowID string) (*model.Assignment, error) {
	defer v.read()()
	for _, a := range v.get().assignments {
		if a.UserID == userID && a.FlowID == flowID && a.Status.IsActive() {
			out := a
			return &out, nil
		}
	}
	return nil, apperr.NotFound("no active assignment of flow %s for user %s", flowID, userID)
}

func (v *view) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	defer v.read()()
	a, ok := v.get().assignments[id]
	if !ok {
		return nil, apperr.NotFound("assignment %s not found", id)
	}
	return &a, nil
}

func (v *view) ListAssignmentsByUser(ctx context.Context, userID string) ([]model.Assignment, error) {
	defer v.read()()
	var out []model.Assignment
	for _, a := range v.get().assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

func (v *view) ListActiveAssignmentsDueBefore(ctx context.Context, t time.Time) ([]model.Assignment, error) {
	defer v.read()()
	var out []model.Assignment
	for _, a := range v.get().assignments {
		if a.Status.IsActive() && a.Deadline.Before(t) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (v *view) InsertAssignment(ctx context.Context, a *model.Assignment) error {
	defer v.write()()
	st := v.get()
	if _, ok := st.snapshots[a.FlowSnapshotID]; !ok {
		return apperr.NotFound("snapshot %s not found", a.FlowSnapshotID)
	}
	for _, existing := range st.assignments {
		if existing.UserID == a.UserID && existing.FlowID == a.FlowID && existing.Status.IsActive() && a.Status.IsActive() {
			return apperr.Conflict("user %s already has an active assignment of flow %s", a.UserID, a.FlowID)
		}
	}
	st.assignments[a.ID] = *a
	return nil
}

func (v *view) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	defer v.write()()
	st := v.get()
	if _, ok := st.assignments[a.ID]; !ok {
		return apperr.NotFound("assignment %s not found", a.ID)
	}
	st.assignments[a.ID] = *a
	return nil
}

// Progress

func (v *view) GetComponentProgress(ctx context.Context, id string) (*model.ComponentProgress, error) {
	defer v.read()()
	p, ok := v.get().components[id]
	if !ok {
		return nil, apperr.NotFound("component progress %s not found", id)
	}
	return &p, nil
}

func (v *view) FindComponentProgress(ctx context.Context, assignmentID, componentSnapshotID string) (*model.ComponentProgress, error) {
	defer v.read()()
	for _, p := range v.get().components {
		if p.AssignmentID == assignmentID && p.ComponentSnapshotID == componentSnapshotID {
			out := p
			return &out, nil
		}
	}
	return nil, apperr.NotFound("no progress for component %s in assignment %s", componentSnapshotID, assignmentID)
}

func (v *view) ListComponentProgress(ctx context.Context, assignmentID string) ([]model.ComponentProgress, error) {
	defer v.read()()
	var out []model.ComponentProgress
	for _, p := range v.get().components {
		if p.AssignmentID == assignmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (v *view) UpsertComponentProgress(ctx context.Context, p *model.ComponentProgress) error {
	defer v.write()()
	st := v.get()
	for id, existing := range st.components {
		if id != p.ID && existing.AssignmentID == p.AssignmentID && existing.ComponentSnapshotID == p.ComponentSnapshotID {
			return apperr.Conflict("progress for component %s already exists", p.ComponentSnapshotID)
		}
	}
	st.components[p.ID] = *p
	return nil
}

func (v *view) ListStepProgress(ctx context.Context, assignmentID string) ([]model.StepProgress, error) {
	defer v.read()()
	var out []model.StepProgress
	for _, p := range v.get().steps {
		if p.AssignmentID == assignmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

func (v *view) UpsertStepProgress(ctx context.Context, p *model.StepProgress) error {
	defer v.write()()
	st := v.get()
	for id, existing := range st.steps {
		if existing.AssignmentID == p.AssignmentID && existing.StepSnapshotID == p.StepSnapshotID && id != p.ID {
			delete(st.steps, id)
			p.ID = existing.ID
		}
	}
	st.steps[p.ID] = *p
	return nil
}

func (v *view) GetFlowProgress(ctx context.Context, id string) (*model.FlowProgress, error) {
	defer v.read()()
	p, ok := v.get().flowProgress[id]
	if !ok {
		return nil, apperr.NotFound("flow progress %s not found", id)
	}
	return &p, nil
}

func (v *view) GetFlowProgressByAssignment(ctx context.Context, assignmentID string) (*model.FlowProgress, error) {
	defer v.read()()
	for _, p := range v.get().flowProgress {
		if p.AssignmentID == assignmentID {
			out := p
			return &out, nil
		}
	}
	return nil, apperr.NotFound("no flow progress for assignment %s", assignmentID)
}

func (v *view) InsertFlowProgress(ctx context.Context, p *model.FlowProgress) error {
	defer v.write()()
	st := v.get()
	for _, existing := range st.flowProgress {
		if existing.AssignmentID == p.AssignmentID {
			return apperr.Conflict("flow progress for assignment %s already exists", p.AssignmentID)
		}
	}
	st.flowProgress[p.ID] = *p
	return nil
}

func (v *view) UpdateFlowProgress(ctx context.Context, p *model.FlowProgress) error {
	defer v.write()()
	st := v.get()
	if _, ok := st.flowProgress[p.ID]; !ok {
		return apperr.NotFound("flow progress %s not found", p.ID)
	}
	st.flowProgress[p.ID] = *p
	return nil
}

var (
	_ repo.Store = (*Store)(nil)
	_ repo.Tx    = (*tx)(nil)
)
