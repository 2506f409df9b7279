package sqlite

import (
	"context"
	"database/sql"

	"github.com/hyphanet/wot/internal/graph"
)

func scanTrust(row *sql.Row) (*graph.Trust, error) {
	var t graph.Trust
	if err := row.Scan(&t.Truster, &t.Trustee, &t.Value, &t.Comment); err != nil {
		return nil, wrapDBError("get trust", err)
	}
	return &t, nil
}

func getTrust(ctx context.Context, q querier, truster, trustee string) (*graph.Trust, error) {
	row := q.QueryRowContext(ctx, "SELECT truster, trustee, value, comment FROM trust WHERE truster = ? AND trustee = ?", truster, trustee)
	return scanTrust(row)
}

func scanTrustRows(rows *sql.Rows) ([]*graph.Trust, error) {
	defer rows.Close()
	var out []*graph.Trust
	for rows.Next() {
		var t graph.Trust
		if err := rows.Scan(&t.Truster, &t.Trustee, &t.Value, &t.Comment); err != nil {
			return nil, wrapDBError("list trust", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func listTrustsFrom(ctx context.Context, q querier, truster string) ([]*graph.Trust, error) {
	rows, err := q.QueryContext(ctx, "SELECT truster, trustee, value, comment FROM trust WHERE truster = ? ORDER BY trustee", truster)
	if err != nil {
		return nil, wrapDBError("list trusts from", err)
	}
	return scanTrustRows(rows)
}

func listTrustsTo(ctx context.Context, q querier, trustee string) ([]*graph.Trust, error) {
	rows, err := q.QueryContext(ctx, "SELECT truster, trustee, value, comment FROM trust WHERE trustee = ? ORDER BY truster", trustee)
	if err != nil {
		return nil, wrapDBError("list trusts to", err)
	}
	return scanTrustRows(rows)
}

// UpsertTrust inserts or replaces the Trust edge for (truster, trustee).
// There is at most one Trust per ordered pair (I3), so this is a genuine
// upsert rather than an insert-only path like identities.
func (t *tx) UpsertTrust(ctx context.Context, tr *graph.Trust) error {
	_, err := t.conn.ExecContext(ctx, `INSERT INTO trust (truster, trustee, value, comment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(truster, trustee) DO UPDATE SET value = excluded.value, comment = excluded.comment`,
		tr.Truster, tr.Trustee, tr.Value, tr.Comment)
	if err != nil {
		return wrapDBError("upsert trust", err)
	}
	return nil
}

func (t *tx) DeleteTrust(ctx context.Context, truster, trustee string) error {
	res, err := t.conn.ExecContext(ctx, "DELETE FROM trust WHERE truster = ? AND trustee = ?", truster, trustee)
	if err != nil {
		return wrapDBError("delete trust", err)
	}
	return requireRowAffected(res, "delete trust")
}

func (t *tx) GetTrust(ctx context.Context, truster, trustee string) (*graph.Trust, error) {
	return getTrust(ctx, t.conn, truster, trustee)
}

func (t *tx) ListTrustsFrom(ctx context.Context, truster string) ([]*graph.Trust, error) {
	return listTrustsFrom(ctx, t.conn, truster)
}

func (t *tx) ListTrustsTo(ctx context.Context, trustee string) ([]*graph.Trust, error) {
	return listTrustsTo(ctx, t.conn, trustee)
}

// DeleteTrustsInvolving removes every Trust edge where identityID is either
// truster or trustee, used by delete_identity (spec §4.3) to keep the graph
// free of dangling edges.
func (t *tx) DeleteTrustsInvolving(ctx context.Context, identityID string) error {
	_, err := t.conn.ExecContext(ctx, "DELETE FROM trust WHERE truster = ? OR trustee = ?", identityID, identityID)
	if err != nil {
		return wrapDBError("delete trusts involving", err)
	}
	return nil
}
