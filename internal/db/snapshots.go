package db

import (
	"context"
	"time"

	"flowtrack/internal/model"

	"github.com/jackc/pgx/v5"
)

// Snapshot queries

func (q *Queries) MaxSnapshotVersion(ctx context.Context, originalFlowID string) (int, error) {
	var version int
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM flow_snapshots WHERE original_flow_id = $1",
		originalFlowID,
	).Scan(&version)
	return version, mapError(err, "read max snapshot version of flow %s", originalFlowID)
}

// InsertSnapshot writes the whole graph. Callers run it inside a transaction.
func (q *Queries) InsertSnapshot(ctx context.Context, s *model.FlowSnapshot) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO flow_snapshots (id, original_flow_id, version, title, description, priority, is_required, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.OriginalFlowID, s.Version, s.Title, s.Description, s.Priority, s.IsRequired, s.Settings, s.CreatedAt,
	)
	if err != nil {
		return mapError(err, "insert snapshot %s", s.ID)
	}

	batch := &pgx.Batch{}
	for _, st := range s.Steps {
		batch.Queue(
			`INSERT INTO step_snapshots (id, flow_snapshot_id, original_step_id, title, description, order_key,
				is_required, estimated_minutes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			st.ID, s.ID, st.OriginalStepID, st.Title, st.Description, st.OrderKey,
			st.IsRequired, st.EstimatedMinutes, st.CreatedAt,
		)
		for _, c := range st.Components {
			batch.Queue(
				`INSERT INTO component_snapshots (id, step_snapshot_id, original_component_id, title, variant, content,
					order_key, is_required, max_attempts, minimum_score, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				c.ID, st.ID, c.OriginalComponentID, c.Title, c.Variant, c.Content,
				c.OrderKey, c.IsRequired, c.MaxAttempts, c.MinimumScore, c.CreatedAt,
			)
		}
	}
	return mapError(q.db.SendBatch(ctx, batch).Close(), "insert graph of snapshot %s", s.ID)
}

func (q *Queries) GetSnapshot(ctx context.Context, id string) (*model.FlowSnapshot, error) {
	return q.loadSnapshot(ctx, id)
}

func (q *Queries) GetSnapshotByAssignment(ctx context.Context, assignmentID string) (*model.FlowSnapshot, error) {
	var snapshotID string
	err := q.db.QueryRow(ctx,
		"SELECT flow_snapshot_id FROM assignments WHERE id = $1",
		assignmentID,
	).Scan(&snapshotID)
	if err != nil {
		return nil, mapError(err, "get assignment %s", assignmentID)
	}
	return q.loadSnapshot(ctx, snapshotID)
}

func (q *Queries) loadSnapshot(ctx context.Context, id string) (*model.FlowSnapshot, error) {
	s := &model.FlowSnapshot{}
	err := q.db.QueryRow(ctx,
		`SELECT id, original_flow_id, version, title, description, priority, is_required, settings, created_at
		FROM flow_snapshots WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.OriginalFlowID, &s.Version, &s.Title, &s.Description, &s.Priority, &s.IsRequired, &s.Settings, &s.CreatedAt)
	if err != nil {
		return nil, mapError(err, "get snapshot %s", id)
	}

	rows, err := q.db.Query(ctx,
		`SELECT id, flow_snapshot_id, original_step_id, title, description, order_key,
			is_required, estimated_minutes, created_at
		FROM step_snapshots WHERE flow_snapshot_id = $1
		ORDER BY order_key COLLATE "C"`,
		id,
	)
	if err != nil {
		return nil, mapError(err, "list steps of snapshot %s", id)
	}
	s.Steps, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StepSnapshot, error) {
		var st model.StepSnapshot
		err := row.Scan(&st.ID, &st.FlowSnapshotID, &st.OriginalStepID, &st.Title, &st.Description, &st.OrderKey,
			&st.IsRequired, &st.EstimatedMinutes, &st.CreatedAt)
		return st, err
	})
	if err != nil {
		return nil, mapError(err, "scan steps of snapshot %s", id)
	}

	rows, err = q.db.Query(ctx,
		`SELECT c.id, c.step_snapshot_id, c.original_component_id, c.title, c.variant, c.content,
			c.order_key, c.is_required, c.max_attempts, c.minimum_score, c.created_at
		FROM component_snapshots c
		JOIN step_snapshots s ON s.id = c.step_snapshot_id
		WHERE s.flow_snapshot_id = $1
		ORDER BY c.order_key COLLATE "C"`,
		id,
	)
	if err != nil {
		return nil, mapError(err, "list components of snapshot %s", id)
	}
	comps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ComponentSnapshot, error) {
		var c model.ComponentSnapshot
		err := row.Scan(&c.ID, &c.StepSnapshotID, &c.OriginalComponentID, &c.Title, &c.Variant, &c.Content,
			&c.OrderKey, &c.IsRequired, &c.MaxAttempts, &c.MinimumScore, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, mapError(err, "scan components of snapshot %s", id)
	}

	byStep := make(map[string]int, len(s.Steps))
	for i := range s.Steps {
		byStep[s.Steps[i].ID] = i
	}
	for _, c := range comps {
		if i, ok := byStep[c.StepSnapshotID]; ok {
			s.Steps[i].Components = append(s.Steps[i].Components, c)
		}
	}
	return s, nil
}

func (q *Queries) ListSnapshotVersions(ctx context.Context, originalFlowID string) ([]model.SnapshotInfo, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, original_flow_id, version, created_at
		FROM flow_snapshots WHERE original_flow_id = $1
		ORDER BY version ASC`,
		originalFlowID,
	)
	if err != nil {
		return nil, mapError(err, "list snapshot versions of flow %s", originalFlowID)
	}
	infos, err := pgx.CollectRows(rows, scanSnapshotInfo)
	return infos, mapError(err, "scan snapshot versions of flow %s", originalFlowID)
}

func (q *Queries) ListSnapshotsCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SnapshotInfo, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, original_flow_id, version, created_at
		FROM flow_snapshots WHERE created_at < $1
		ORDER BY created_at ASC, version ASC`,
		cutoff,
	)
	if err != nil {
		return nil, mapError(err, "list snapshots created before %s", cutoff.Format(time.RFC3339))
	}
	infos, err := pgx.CollectRows(rows, scanSnapshotInfo)
	return infos, mapError(err, "scan snapshots")
}

func scanSnapshotInfo(row pgx.CollectableRow) (model.SnapshotInfo, error) {
	var info model.SnapshotInfo
	err := row.Scan(&info.ID, &info.OriginalFlowID, &info.Version, &info.CreatedAt)
	return info, err
}

func (q *Queries) SnapshotReferenced(ctx context.Context, snapshotID string) (bool, error) {
	var referenced bool
	err := q.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM assignments WHERE flow_snapshot_id = $1)",
		snapshotID,
	).Scan(&referenced)
	return referenced, mapError(err, "check references to snapshot %s", snapshotID)
}

// DeleteSnapshot removes the graph; step and component rows cascade.
func (q *Queries) DeleteSnapshot(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, "DELETE FROM flow_snapshots WHERE id = $1", id)
	return expectRow(tag, err, "delete snapshot %s", id)
}
