package sqlite

import "context"

func getConfig(ctx context.Context, q querier, key string) (string, bool, error) {
	row := q.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key)
	var value string
	if err := row.Scan(&value); err != nil {
		if isNotFound(wrapDBError("get config", err)) {
			return "", false, nil
		}
		return "", false, wrapDBError("get config", err)
	}
	return value, true, nil
}

func (t *tx) SetConfig(ctx context.Context, key, value string) error {
	_, err := t.conn.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return wrapDBError("set config", err)
	}
	return nil
}

func (t *tx) GetConfig(ctx context.Context, key string) (string, bool, error) {
	return getConfig(ctx, t.conn, key)
}
