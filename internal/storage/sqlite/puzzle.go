package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/hyphanet/wot/internal/graph"
)

const puzzleColumns = `id, type, mime_type, data, inserter, day_of_insertion, idx, valid_until, was_solved, was_inserted, solver, solution`

func scanPuzzle(row *sql.Row) (*graph.IntroductionPuzzle, error) {
	var p graph.IntroductionPuzzle
	if err := row.Scan(&p.ID, &p.Type, &p.MimeType, &p.Data, &p.Inserter, &p.DayOfInsertion,
		&p.Index, &p.ValidUntil, &p.WasSolved, &p.WasInserted, &p.Solver, &p.Solution); err != nil {
		return nil, wrapDBError("get puzzle", err)
	}
	return &p, nil
}

func getPuzzle(ctx context.Context, q querier, id string) (*graph.IntroductionPuzzle, error) {
	row := q.QueryRowContext(ctx, "SELECT "+puzzleColumns+" FROM introduction_puzzle WHERE id = ?", id)
	return scanPuzzle(row)
}

func scanPuzzleRows(rows *sql.Rows) ([]*graph.IntroductionPuzzle, error) {
	defer rows.Close()
	var out []*graph.IntroductionPuzzle
	for rows.Next() {
		var p graph.IntroductionPuzzle
		if err := rows.Scan(&p.ID, &p.Type, &p.MimeType, &p.Data, &p.Inserter, &p.DayOfInsertion,
			&p.Index, &p.ValidUntil, &p.WasSolved, &p.WasInserted, &p.Solver, &p.Solution); err != nil {
			return nil, wrapDBError("list puzzles", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func listPuzzlesByInserter(ctx context.Context, q querier, inserter string) ([]*graph.IntroductionPuzzle, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+puzzleColumns+" FROM introduction_puzzle WHERE inserter = ? ORDER BY idx", inserter)
	if err != nil {
		return nil, wrapDBError("list puzzles by inserter", err)
	}
	return scanPuzzleRows(rows)
}

func listExpiredPuzzles(ctx context.Context, q querier, asOf time.Time) ([]*graph.IntroductionPuzzle, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+puzzleColumns+" FROM introduction_puzzle WHERE valid_until <= ? ORDER BY valid_until", asOf)
	if err != nil {
		return nil, wrapDBError("list expired puzzles", err)
	}
	return scanPuzzleRows(rows)
}

func (t *tx) InsertPuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error {
	_, err := t.conn.ExecContext(ctx, `INSERT INTO introduction_puzzle
		(id, type, mime_type, data, inserter, day_of_insertion, idx, valid_until, was_solved, was_inserted, solver, solution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Type, p.MimeType, p.Data, p.Inserter, p.DayOfInsertion, p.Index, p.ValidUntil,
		p.WasSolved, p.WasInserted, p.Solver, p.Solution)
	if err != nil {
		return wrapConstraintAsConflict("insert puzzle", err)
	}
	return nil
}

func (t *tx) UpdatePuzzle(ctx context.Context, p *graph.IntroductionPuzzle) error {
	res, err := t.conn.ExecContext(ctx, `UPDATE introduction_puzzle SET
		was_solved = ?, was_inserted = ?, solver = ?, solution = ?, valid_until = ?
		WHERE id = ?`,
		p.WasSolved, p.WasInserted, p.Solver, p.Solution, p.ValidUntil, p.ID)
	if err != nil {
		return wrapDBError("update puzzle", err)
	}
	return requireRowAffected(res, "update puzzle")
}

func (t *tx) DeletePuzzle(ctx context.Context, id string) error {
	res, err := t.conn.ExecContext(ctx, "DELETE FROM introduction_puzzle WHERE id = ?", id)
	if err != nil {
		return wrapDBError("delete puzzle", err)
	}
	return requireRowAffected(res, "delete puzzle")
}

func (t *tx) GetPuzzle(ctx context.Context, id string) (*graph.IntroductionPuzzle, error) {
	return getPuzzle(ctx, t.conn, id)
}

func (t *tx) ListPuzzlesByInserter(ctx context.Context, inserter string) ([]*graph.IntroductionPuzzle, error) {
	return listPuzzlesByInserter(ctx, t.conn, inserter)
}

func (t *tx) ListExpiredPuzzles(ctx context.Context, asOf time.Time) ([]*graph.IntroductionPuzzle, error) {
	return listExpiredPuzzles(ctx, t.conn, asOf)
}
