package db

import (
	"context"
	"encoding/json"
	"time"

	"flowtrack/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Queries wraps database queries
type Queries struct {
	db DBTX
}

// NewQueries creates a new Queries instance
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// Flow queries

func (q *Queries) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	f := &model.Flow{}
	err := q.db.QueryRow(ctx,
		`SELECT id, title, description, status, priority, is_required, settings, created_at, updated_at
		FROM flows WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.Title, &f.Description, &f.Status, &f.Priority, &f.IsRequired, &f.Settings, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "get flow %s", id)
	}

	rows, err := q.db.Query(ctx,
		`SELECT id, flow_id, title, description, order_key, is_required, estimated_minutes
		FROM steps WHERE flow_id = $1
		ORDER BY order_key COLLATE "C"`,
		id,
	)
	if err != nil {
		return nil, mapError(err, "list steps of flow %s", id)
	}
	f.Steps, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Step, error) {
		var s model.Step
		err := row.Scan(&s.ID, &s.FlowID, &s.Title, &s.Description, &s.OrderKey, &s.IsRequired, &s.EstimatedMinutes)
		return s, err
	})
	if err != nil {
		return nil, mapError(err, "scan steps of flow %s", id)
	}

	rows, err = q.db.Query(ctx,
		`SELECT c.id, c.step_id, c.title, c.variant, c.content, c.order_key,
			c.is_required, c.max_attempts, c.minimum_score
		FROM components c
		JOIN steps s ON s.id = c.step_id
		WHERE s.flow_id = $1
		ORDER BY c.order_key COLLATE "C"`,
		id,
	)
	if err != nil {
		return nil, mapError(err, "list components of flow %s", id)
	}
	defer rows.Close()

	byStep := make(map[string]int, len(f.Steps))
	for i := range f.Steps {
		byStep[f.Steps[i].ID] = i
	}
	for rows.Next() {
		var c model.Component
		var raw json.RawMessage
		if err := rows.Scan(&c.ID, &c.StepID, &c.Title, &c.Variant, &raw, &c.OrderKey,
			&c.IsRequired, &c.MaxAttempts, &c.MinimumScore); err != nil {
			return nil, mapError(err, "scan component of flow %s", id)
		}
		content, err := model.DecodeContent(c.Variant, raw)
		if err != nil {
			return nil, err
		}
		c.Content = content
		if i, ok := byStep[c.StepID]; ok {
			f.Steps[i].Components = append(f.Steps[i].Components, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list components of flow %s", id)
	}
	return f, nil
}

func (q *Queries) InsertFlow(ctx context.Context, flow *model.Flow) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO flows (id, title, description, status, priority, is_required, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flow.ID, flow.Title, flow.Description, flow.Status, flow.Priority, flow.IsRequired,
		flow.Settings, flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "insert flow %s", flow.ID)
	}

	batch := &pgx.Batch{}
	for _, s := range flow.Steps {
		s.FlowID = flow.ID
		queueStep(batch, &s)
		for _, c := range s.Components {
			c.StepID = s.ID
			if err := queueComponent(batch, &c); err != nil {
				return err
			}
		}
	}
	return mapError(q.db.SendBatch(ctx, batch).Close(), "insert steps of flow %s", flow.ID)
}

func (q *Queries) InsertStep(ctx context.Context, step *model.Step) error {
	batch := &pgx.Batch{}
	queueStep(batch, step)
	for _, c := range step.Components {
		c.StepID = step.ID
		if err := queueComponent(batch, &c); err != nil {
			return err
		}
	}
	return mapError(q.db.SendBatch(ctx, batch).Close(), "insert step %s", step.ID)
}

func (q *Queries) InsertComponent(ctx context.Context, component *model.Component) error {
	batch := &pgx.Batch{}
	if err := queueComponent(batch, component); err != nil {
		return err
	}
	return mapError(q.db.SendBatch(ctx, batch).Close(), "insert component %s", component.ID)
}

func queueStep(batch *pgx.Batch, s *model.Step) {
	batch.Queue(
		`INSERT INTO steps (id, flow_id, title, description, order_key, is_required, estimated_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.FlowID, s.Title, s.Description, s.OrderKey, s.IsRequired, s.EstimatedMinutes,
	)
}

func queueComponent(batch *pgx.Batch, c *model.Component) error {
	raw, err := model.EncodeContent(c.Content)
	if err != nil {
		return err
	}
	batch.Queue(
		`INSERT INTO components (id, step_id, title, variant, content, order_key, is_required, max_attempts, minimum_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.StepID, c.Title, c.Variant, raw, c.OrderKey, c.IsRequired, c.MaxAttempts, c.MinimumScore,
	)
	return nil
}

func (q *Queries) UpdateFlowStatus(ctx context.Context, id string, status model.FlowStatus, updatedAt time.Time) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE flows SET status = $2, updated_at = $3 WHERE id = $1",
		id, status, updatedAt,
	)
	return expectRow(tag, err, "update status of flow %s", id)
}

func (q *Queries) TouchFlow(ctx context.Context, id string, updatedAt time.Time) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE flows SET updated_at = GREATEST(updated_at, $2) WHERE id = $1",
		id, updatedAt,
	)
	return expectRow(tag, err, "touch flow %s", id)
}

func (q *Queries) LocateStep(ctx context.Context, stepID string) (string, error) {
	var flowID string
	err := q.db.QueryRow(ctx, "SELECT flow_id FROM steps WHERE id = $1", stepID).Scan(&flowID)
	return flowID, mapError(err, "locate step %s", stepID)
}

func (q *Queries) LocateComponent(ctx context.Context, componentID string) (string, string, error) {
	var flowID, stepID string
	err := q.db.QueryRow(ctx,
		`SELECT s.flow_id, s.id FROM components c JOIN steps s ON s.id = c.step_id WHERE c.id = $1`,
		componentID,
	).Scan(&flowID, &stepID)
	return flowID, stepID, mapError(err, "locate component %s", componentID)
}

func (q *Queries) UpdateStepOrderKey(ctx context.Context, stepID, key string) error {
	tag, err := q.db.Exec(ctx, "UPDATE steps SET order_key = $2 WHERE id = $1", stepID, key)
	return expectRow(tag, err, "reorder step %s", stepID)
}

func (q *Queries) UpdateComponentOrderKey(ctx context.Context, componentID, key string) error {
	tag, err := q.db.Exec(ctx, "UPDATE components SET order_key = $2 WHERE id = $1", componentID, key)
	return expectRow(tag, err, "reorder component %s", componentID)
}
