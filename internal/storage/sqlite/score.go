package sqlite

import (
	"context"
	"database/sql"

	"github.com/hyphanet/wot/internal/graph"
)

func getScore(ctx context.Context, q querier, viewer, target string) (*graph.Score, error) {
	row := q.QueryRowContext(ctx, "SELECT viewer, target, value, rank, capacity FROM score WHERE viewer = ? AND target = ?", viewer, target)
	var s graph.Score
	if err := row.Scan(&s.Viewer, &s.Target, &s.Value, &s.Rank, &s.Capacity); err != nil {
		return nil, wrapDBError("get score", err)
	}
	return &s, nil
}

func scanScoreRows(rows *sql.Rows) ([]*graph.Score, error) {
	defer rows.Close()
	var out []*graph.Score
	for rows.Next() {
		var s graph.Score
		if err := rows.Scan(&s.Viewer, &s.Target, &s.Value, &s.Rank, &s.Capacity); err != nil {
			return nil, wrapDBError("list scores", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func listScoresForViewer(ctx context.Context, q querier, viewer string) ([]*graph.Score, error) {
	rows, err := q.QueryContext(ctx, "SELECT viewer, target, value, rank, capacity FROM score WHERE viewer = ? ORDER BY target", viewer)
	if err != nil {
		return nil, wrapDBError("list scores for viewer", err)
	}
	return scanScoreRows(rows)
}

// UpsertScore inserts or replaces the Score for (viewer, target). The
// engine recomputes and re-upserts a target's Score on every reconcile
// pass that touches it (spec §4.3 phase B), so this is an upsert, not an
// insert-only path.
func (t *tx) UpsertScore(ctx context.Context, s *graph.Score) error {
	_, err := t.conn.ExecContext(ctx, `INSERT INTO score (viewer, target, value, rank, capacity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(viewer, target) DO UPDATE SET value = excluded.value, rank = excluded.rank, capacity = excluded.capacity`,
		s.Viewer, s.Target, s.Value, s.Rank, s.Capacity)
	if err != nil {
		return wrapDBError("upsert score", err)
	}
	return nil
}

func (t *tx) DeleteScore(ctx context.Context, viewer, target string) error {
	_, err := t.conn.ExecContext(ctx, "DELETE FROM score WHERE viewer = ? AND target = ?", viewer, target)
	if err != nil {
		return wrapDBError("delete score", err)
	}
	return nil
}

func (t *tx) GetScore(ctx context.Context, viewer, target string) (*graph.Score, error) {
	return getScore(ctx, t.conn, viewer, target)
}

func (t *tx) ListScoresForViewer(ctx context.Context, viewer string) ([]*graph.Score, error) {
	return listScoresForViewer(ctx, t.conn, viewer)
}

// DeleteScoresInvolving removes every Score where identityID is either the
// viewer or the target, used by delete_identity (spec §4.3).
func (t *tx) DeleteScoresInvolving(ctx context.Context, identityID string) error {
	_, err := t.conn.ExecContext(ctx, "DELETE FROM score WHERE viewer = ? OR target = ?", identityID, identityID)
	if err != nil {
		return wrapDBError("delete scores involving", err)
	}
	return nil
}
