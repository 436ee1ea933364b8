package db

import (
	"context"

	"flowtrack/internal/model"

	"github.com/jackc/pgx/v5"
)

const componentProgressColumns = `id, assignment_id, step_snapshot_id, component_snapshot_id, status,
	attempt_count, score, payload, time_spent_minutes, started_at, completed_at, updated_at`

func scanComponentProgress(row pgx.Row) (model.ComponentProgress, error) {
	var p model.ComponentProgress
	err := row.Scan(&p.ID, &p.AssignmentID, &p.StepSnapshotID, &p.ComponentSnapshotID, &p.Status,
		&p.AttemptCount, &p.Score, &p.Payload, &p.TimeSpentMinutes, &p.StartedAt, &p.CompletedAt, &p.UpdatedAt)
	return p, err
}

// Component progress queries

func (q *Queries) GetComponentProgress(ctx context.Context, id string) (*model.ComponentProgress, error) {
	p, err := scanComponentProgress(q.db.QueryRow(ctx,
		`SELECT `+componentProgressColumns+` FROM component_progress WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get component progress %s", id)
	}
	return &p, nil
}

func (q *Queries) FindComponentProgress(ctx context.Context, assignmentID, componentSnapshotID string) (*model.ComponentProgress, error) {
	p, err := scanComponentProgress(q.db.QueryRow(ctx,
		`SELECT `+componentProgressColumns+` FROM component_progress
		WHERE assignment_id = $1 AND component_snapshot_id = $2`,
		assignmentID, componentSnapshotID,
	))
	if err != nil {
		return nil, mapError(err, "find progress of component %s", componentSnapshotID)
	}
	return &p, nil
}

func (q *Queries) ListComponentProgress(ctx context.Context, assignmentID string) ([]model.ComponentProgress, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+componentProgressColumns+` FROM component_progress
		WHERE assignment_id = $1 ORDER BY started_at ASC`,
		assignmentID,
	)
	if err != nil {
		return nil, mapError(err, "list component progress of assignment %s", assignmentID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ComponentProgress, error) {
		return scanComponentProgress(row)
	})
	return out, mapError(err, "scan component progress of assignment %s", assignmentID)
}

// UpsertComponentProgress is last-writer-wins on the row; updated_at never moves backwards.
func (q *Queries) UpsertComponentProgress(ctx context.Context, p *model.ComponentProgress) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO component_progress (`+componentProgressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			score = EXCLUDED.score,
			payload = EXCLUDED.payload,
			time_spent_minutes = EXCLUDED.time_spent_minutes,
			completed_at = EXCLUDED.completed_at,
			updated_at = GREATEST(component_progress.updated_at, EXCLUDED.updated_at)`,
		p.ID, p.AssignmentID, p.StepSnapshotID, p.ComponentSnapshotID, p.Status,
		p.AttemptCount, p.Score, p.Payload, p.TimeSpentMinutes, p.StartedAt, p.CompletedAt, p.UpdatedAt,
	)
	return mapError(err, "upsert component progress %s", p.ID)
}

// Step progress queries

func (q *Queries) ListStepProgress(ctx context.Context, assignmentID string) ([]model.StepProgress, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, assignment_id, step_snapshot_id, status, unlocked_at, completed_at, updated_at
		FROM step_progress WHERE assignment_id = $1 ORDER BY unlocked_at ASC`,
		assignmentID,
	)
	if err != nil {
		return nil, mapError(err, "list step progress of assignment %s", assignmentID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StepProgress, error) {
		var p model.StepProgress
		err := row.Scan(&p.ID, &p.AssignmentID, &p.StepSnapshotID, &p.Status, &p.UnlockedAt, &p.CompletedAt, &p.UpdatedAt)
		return p, err
	})
	return out, mapError(err, "scan step progress of assignment %s", assignmentID)
}

func (q *Queries) UpsertStepProgress(ctx context.Context, p *model.StepProgress) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO step_progress (id, assignment_id, step_snapshot_id, status, unlocked_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (assignment_id, step_snapshot_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		p.ID, p.AssignmentID, p.StepSnapshotID, p.Status, p.UnlockedAt, p.CompletedAt, p.UpdatedAt,
	).Scan(&p.ID)
	return mapError(err, "upsert step progress of %s", p.StepSnapshotID)
}

// Flow progress queries

const flowProgressColumns = `id, assignment_id, flow_snapshot_id, user_id, status, overall_progress,
	completed_required, total_required, current_step_snapshot_id, started_at, completed_at, updated_at`

func scanFlowProgress(row pgx.Row) (model.FlowProgress, error) {
	var p model.FlowProgress
	err := row.Scan(&p.ID, &p.AssignmentID, &p.FlowSnapshotID, &p.UserID, &p.Status, &p.OverallProgress,
		&p.CompletedRequired, &p.TotalRequired, &p.CurrentStepSnapshotID, &p.StartedAt, &p.CompletedAt, &p.UpdatedAt)
	return p, err
}

func (q *Queries) GetFlowProgress(ctx context.Context, id string) (*model.FlowProgress, error) {
	p, err := scanFlowProgress(q.db.QueryRow(ctx,
		`SELECT `+flowProgressColumns+` FROM flow_progress WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get flow progress %s", id)
	}
	return &p, nil
}

func (q *Queries) GetFlowProgressByAssignment(ctx context.Context, assignmentID string) (*model.FlowProgress, error) {
	p, err := scanFlowProgress(q.db.QueryRow(ctx,
		`SELECT `+flowProgressColumns+` FROM flow_progress WHERE assignment_id = $1`, assignmentID))
	if err != nil {
		return nil, mapError(err, "get flow progress of assignment %s", assignmentID)
	}
	return &p, nil
}

func (q *Queries) InsertFlowProgress(ctx context.Context, p *model.FlowProgress) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO flow_progress (`+flowProgressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.AssignmentID, p.FlowSnapshotID, p.UserID, p.Status, p.OverallProgress,
		p.CompletedRequired, p.TotalRequired, p.CurrentStepSnapshotID, p.StartedAt, p.CompletedAt, p.UpdatedAt,
	)
	return mapError(err, "insert flow progress %s", p.ID)
}

func (q *Queries) UpdateFlowProgress(ctx context.Context, p *model.FlowProgress) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE flow_progress SET status = $2, overall_progress = $3, completed_required = $4,
			total_required = $5, current_step_snapshot_id = $6, started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Status, p.OverallProgress, p.CompletedRequired, p.TotalRequired,
		p.CurrentStepSnapshotID, p.StartedAt, p.CompletedAt, p.UpdatedAt,
	)
	return expectRow(tag, err, "update flow progress %s", p.ID)
}
