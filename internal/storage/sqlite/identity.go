package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hyphanet/wot/internal/graph"
)

func encodeContexts(c []string) (string, error) {
	if c == nil {
		c = []string{}
	}
	b, err := json.Marshal(c)
	return string(b), err
}

func decodeContexts(s string) ([]string, error) {
	var c []string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return c, nil
}

func encodeProperties(p map[string]string) (string, error) {
	if p == nil {
		p = map[string]string{}
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func decodeProperties(s string) (map[string]string, error) {
	p := map[string]string{}
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	return p, nil
}

const identityColumns = `id, request_address, current_edition, latest_edition_hint, fetch_state,
	last_fetched_at, last_changed_at, added_at, nickname, publishes_trust_list, contexts, properties`

func scanIdentity(row *sql.Row) (*graph.Identity, error) {
	var id graph.Identity
	var contexts, properties string
	if err := row.Scan(&id.ID, &id.RequestAddress, &id.CurrentEdition, &id.LatestEditionHint,
		&id.FetchState, &id.LastFetchedAt, &id.LastChangedAt, &id.AddedAt, &id.Nickname,
		&id.PublishesTrustList, &contexts, &properties); err != nil {
		return nil, wrapDBError("get identity", err)
	}
	var err error
	if id.Contexts, err = decodeContexts(contexts); err != nil {
		return nil, wrapDBErrorf(err, "decode contexts for %s", id.ID)
	}
	if id.Properties, err = decodeProperties(properties); err != nil {
		return nil, wrapDBErrorf(err, "decode properties for %s", id.ID)
	}
	return &id, nil
}

func getIdentity(ctx context.Context, q querier, id string) (*graph.Identity, error) {
	row := q.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identity WHERE id = ?", id)
	return scanIdentity(row)
}

func listIdentities(ctx context.Context, q querier) ([]*graph.Identity, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+identityColumns+" FROM identity ORDER BY id")
	if err != nil {
		return nil, wrapDBError("list identities", err)
	}
	defer rows.Close()

	var out []*graph.Identity
	for rows.Next() {
		var id graph.Identity
		var contexts, properties string
		if err := rows.Scan(&id.ID, &id.RequestAddress, &id.CurrentEdition, &id.LatestEditionHint,
			&id.FetchState, &id.LastFetchedAt, &id.LastChangedAt, &id.AddedAt, &id.Nickname,
			&id.PublishesTrustList, &contexts, &properties); err != nil {
			return nil, wrapDBError("list identities", err)
		}
		if id.Contexts, err = decodeContexts(contexts); err != nil {
			return nil, wrapDBErrorf(err, "decode contexts for %s", id.ID)
		}
		if id.Properties, err = decodeProperties(properties); err != nil {
			return nil, wrapDBErrorf(err, "decode properties for %s", id.ID)
		}
		out = append(out, &id)
	}
	return out, rows.Err()
}

const ownIdentityColumns = identityColumns + `, insert_address, created_at, last_inserted_at`

func getOwnIdentity(ctx context.Context, q querier, id string) (*graph.OwnIdentity, error) {
	row := q.QueryRowContext(ctx, "SELECT "+ownIdentityColumns+" FROM identity WHERE id = ? AND is_own = 1", id)
	var own graph.OwnIdentity
	var contexts, properties string
	if err := row.Scan(&own.ID, &own.RequestAddress, &own.CurrentEdition, &own.LatestEditionHint,
		&own.FetchState, &own.LastFetchedAt, &own.LastChangedAt, &own.AddedAt, &own.Nickname,
		&own.PublishesTrustList, &contexts, &properties,
		&own.InsertAddress, &own.CreatedAt, &own.LastInsertedAt); err != nil {
		return nil, wrapDBError("get own identity", err)
	}
	var err error
	if own.Contexts, err = decodeContexts(contexts); err != nil {
		return nil, wrapDBErrorf(err, "decode contexts for %s", own.ID)
	}
	if own.Properties, err = decodeProperties(properties); err != nil {
		return nil, wrapDBErrorf(err, "decode properties for %s", own.ID)
	}
	return &own, nil
}

func listOwnIdentities(ctx context.Context, q querier) ([]*graph.OwnIdentity, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+ownIdentityColumns+" FROM identity WHERE is_own = 1 ORDER BY id")
	if err != nil {
		return nil, wrapDBError("list own identities", err)
	}
	defer rows.Close()

	var out []*graph.OwnIdentity
	for rows.Next() {
		var own graph.OwnIdentity
		var contexts, properties string
		if err := rows.Scan(&own.ID, &own.RequestAddress, &own.CurrentEdition, &own.LatestEditionHint,
			&own.FetchState, &own.LastFetchedAt, &own.LastChangedAt, &own.AddedAt, &own.Nickname,
			&own.PublishesTrustList, &contexts, &properties,
			&own.InsertAddress, &own.CreatedAt, &own.LastInsertedAt); err != nil {
			return nil, wrapDBError("list own identities", err)
		}
		if own.Contexts, err = decodeContexts(contexts); err != nil {
			return nil, wrapDBErrorf(err, "decode contexts for %s", own.ID)
		}
		if own.Properties, err = decodeProperties(properties); err != nil {
			return nil, wrapDBErrorf(err, "decode properties for %s", own.ID)
		}
		out = append(out, &own)
	}
	return out, rows.Err()
}

func (t *tx) InsertIdentity(ctx context.Context, id *graph.Identity) error {
	contexts, err := encodeContexts(id.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeProperties(id.Properties)
	if err != nil {
		return err
	}
	_, err = t.conn.ExecContext(ctx, `INSERT INTO identity
		(id, request_address, current_edition, latest_edition_hint, fetch_state,
		 last_fetched_at, last_changed_at, added_at, nickname, publishes_trust_list, contexts, properties, is_own)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id.ID, id.RequestAddress, id.CurrentEdition, id.LatestEditionHint, id.FetchState,
		id.LastFetchedAt, id.LastChangedAt, id.AddedAt, id.Nickname, id.PublishesTrustList, contexts, properties)
	if err != nil {
		return wrapConstraintAsConflict("insert identity", err)
	}
	return nil
}

func (t *tx) UpdateIdentity(ctx context.Context, id *graph.Identity) error {
	contexts, err := encodeContexts(id.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeProperties(id.Properties)
	if err != nil {
		return err
	}
	res, err := t.conn.ExecContext(ctx, `UPDATE identity SET
		request_address = ?, current_edition = ?, latest_edition_hint = ?, fetch_state = ?,
		last_fetched_at = ?, last_changed_at = ?, nickname = ?, publishes_trust_list = ?,
		contexts = ?, properties = ?
		WHERE id = ?`,
		id.RequestAddress, id.CurrentEdition, id.LatestEditionHint, id.FetchState,
		id.LastFetchedAt, id.LastChangedAt, id.Nickname, id.PublishesTrustList, contexts, properties, id.ID)
	if err != nil {
		return wrapDBError("update identity", err)
	}
	return requireRowAffected(res, "update identity")
}

func (t *tx) DeleteIdentity(ctx context.Context, id string) error {
	res, err := t.conn.ExecContext(ctx, "DELETE FROM identity WHERE id = ?", id)
	if err != nil {
		return wrapDBError("delete identity", err)
	}
	return requireRowAffected(res, "delete identity")
}

func (t *tx) GetIdentity(ctx context.Context, id string) (*graph.Identity, error) {
	return getIdentity(ctx, t.conn, id)
}

func (t *tx) ListIdentities(ctx context.Context) ([]*graph.Identity, error) {
	return listIdentities(ctx, t.conn)
}

func (t *tx) InsertOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error {
	contexts, err := encodeContexts(own.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeProperties(own.Properties)
	if err != nil {
		return err
	}
	_, err = t.conn.ExecContext(ctx, `INSERT INTO identity
		(id, request_address, current_edition, latest_edition_hint, fetch_state,
		 last_fetched_at, last_changed_at, added_at, nickname, publishes_trust_list, contexts, properties,
		 is_own, insert_address, created_at, last_inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		own.ID, own.RequestAddress, own.CurrentEdition, own.LatestEditionHint, own.FetchState,
		own.LastFetchedAt, own.LastChangedAt, own.AddedAt, own.Nickname, own.PublishesTrustList, contexts, properties,
		own.InsertAddress, own.CreatedAt, own.LastInsertedAt)
	if err != nil {
		return wrapConstraintAsConflict("insert own identity", err)
	}
	return nil
}

func (t *tx) UpdateOwnIdentity(ctx context.Context, own *graph.OwnIdentity) error {
	contexts, err := encodeContexts(own.Contexts)
	if err != nil {
		return err
	}
	properties, err := encodeProperties(own.Properties)
	if err != nil {
		return err
	}
	res, err := t.conn.ExecContext(ctx, `UPDATE identity SET
		request_address = ?, current_edition = ?, latest_edition_hint = ?, fetch_state = ?,
		last_fetched_at = ?, last_changed_at = ?, nickname = ?, publishes_trust_list = ?,
		contexts = ?, properties = ?, insert_address = ?, last_inserted_at = ?
		WHERE id = ? AND is_own = 1`,
		own.RequestAddress, own.CurrentEdition, own.LatestEditionHint, own.FetchState,
		own.LastFetchedAt, own.LastChangedAt, own.Nickname, own.PublishesTrustList, contexts, properties,
		own.InsertAddress, own.LastInsertedAt, own.ID)
	if err != nil {
		return wrapDBError("update own identity", err)
	}
	return requireRowAffected(res, "update own identity")
}

func (t *tx) GetOwnIdentity(ctx context.Context, id string) (*graph.OwnIdentity, error) {
	return getOwnIdentity(ctx, t.conn, id)
}

func (t *tx) ListOwnIdentities(ctx context.Context) ([]*graph.OwnIdentity, error) {
	return listOwnIdentities(ctx, t.conn)
}
