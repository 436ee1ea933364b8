package db

import (
	"context"
	"time"

	"flowtrack/internal/model"

	"github.com/jackc/pgx/v5"
)

const assignmentColumns = `id, user_id, flow_id, flow_snapshot_id, status, assigned_at, deadline,
	assigned_by, mentor_id, completed_at, updated_at`

func scanAssignment(row pgx.Row) (model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.ID, &a.UserID, &a.FlowID, &a.FlowSnapshotID, &a.Status, &a.AssignedAt, &a.Deadline,
		&a.AssignedBy, &a.MentorID, &a.CompletedAt, &a.UpdatedAt)
	return a, err
}

// Assignment queries

func (q *Queries) GetActiveAssignment(ctx context.Context, userID, flowID string) (*model.Assignment, error) {
	a, err := scanAssignment(q.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments
		WHERE user_id = $1 AND flow_id = $2 AND status NOT IN ('COMPLETED', 'CANCELLED')`,
		userID, flowID,
	))
	if err != nil {
		return nil, mapError(err, "get active assignment of flow %s for user %s", flowID, userID)
	}
	return &a, nil
}

func (q *Queries) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignment(q.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, mapError(err, "get assignment %s", id)
	}
	return &a, nil
}

func (q *Queries) ListAssignmentsByUser(ctx context.Context, userID string) ([]model.Assignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = $1 ORDER BY assigned_at DESC`,
		userID,
	)
	if err != nil {
		return nil, mapError(err, "list assignments of user %s", userID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Assignment, error) {
		return scanAssignment(row)
	})
	return out, mapError(err, "scan assignments of user %s", userID)
}

func (q *Queries) ListActiveAssignmentsDueBefore(ctx context.Context, t time.Time) ([]model.Assignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments
		WHERE deadline < $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY deadline ASC`,
		t,
	)
	if err != nil {
		return nil, mapError(err, "list assignments due before %s", t.Format(time.RFC3339))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Assignment, error) {
		return scanAssignment(row)
	})
	return out, mapError(err, "scan due assignments")
}

// InsertAssignment relies on the partial unique index over active (user_id, flow_id)
// pairs; a violation comes back as Conflict.
func (q *Queries) InsertAssignment(ctx context.Context, a *model.Assignment) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, a.FlowID, a.FlowSnapshotID, a.Status, a.AssignedAt, a.Deadline,
		a.AssignedBy, a.MentorID, a.CompletedAt, a.UpdatedAt,
	)
	return mapError(err, "insert assignment %s", a.ID)
}

func (q *Queries) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE assignments SET status = $2, deadline = $3, mentor_id = $4, completed_at = $5, updated_at = $6
		WHERE id = $1`,
		a.ID, a.Status, a.Deadline, a.MentorID, a.CompletedAt, a.UpdatedAt,
	)
	return expectRow(tag, err, "update assignment %s", a.ID)
}
