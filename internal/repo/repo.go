package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/events"
)

// Repo is the SQLite store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var ErrNotFound = domain.ErrNotFound

var _ engine.Store = Repo{}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) Close() error {
	return r.DB.Close()
}

func (r Repo) Begin(ctx context.Context) (engine.StoreTx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, events: r.Events}, nil
}

func (r Repo) GetApp(ctx context.Context, id uint64) (domain.App, error) {
	return getApp(ctx, r.DB, id)
}

func (r Repo) LoadGlobals(ctx context.Context, appID uint64) (agreement.Globals, error) {
	return loadGlobals(ctx, r.DB, appID)
}

func (r Repo) ListApps(ctx context.Context) ([]domain.App, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,creator,create_txn,created_at FROM apps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListTxns(ctx context.Context, appID uint64) ([]domain.Txn, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,app_id,sender,action,args_json,ts FROM txns WHERE app_id=? ORDER BY seq`, int64(appID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Txn
	for rows.Next() {
		var (
			t      domain.Txn
			app    int64
			sender []byte
			args   string
		)
		if err := rows.Scan(&t.ID, &app, &sender, &t.Action, &args, &t.TS); err != nil {
			return nil, err
		}
		t.AppID = uint64(app)
		if t.Sender, err = agreement.AddressFromBytes(sender); err != nil {
			return nil, fmt.Errorf("txn %s sender: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(args), &t.Args); err != nil {
			return nil, fmt.Errorf("txn %s args: %w", t.ID, err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListEvents returns events matching q in ascending id order.
func (r Repo) ListEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if q.AppID != 0 {
		clauses = append(clauses, "app_id=?")
		args = append(args, int64(q.AppID))
	}
	if q.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, q.Type)
	}
	if q.TxnID != "" {
		clauses = append(clauses, "txn_id=?")
		args = append(args, q.TxnID)
	}
	if q.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, q.AfterID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,app_id,txn_id,seq,ts,type,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			app     int64
			payload string
		)
		if err := rows.Scan(&e.ID, &app, &e.TxnID, &e.Seq, &e.TS, &e.Type, &payload); err != nil {
			return nil, err
		}
		e.AppID = uint64(app)
		if e.Fields, err = events.Decode(payload); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Tx is a SQLite write transaction.
type Tx struct {
	tx     *sql.Tx
	events events.Writer
}

func (t *Tx) GetApp(ctx context.Context, id uint64) (domain.App, error) {
	return getApp(ctx, t.tx, id)
}

func (t *Tx) LoadGlobals(ctx context.Context, appID uint64) (agreement.Globals, error) {
	return loadGlobals(ctx, t.tx, appID)
}

func (t *Tx) NextAppID(ctx context.Context) (uint64, error) {
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0)+1 FROM apps`).Scan(&id); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (t *Tx) InsertApp(ctx context.Context, a domain.App) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO apps(id,creator,create_txn,created_at) VALUES (?,?,?,?)`,
		int64(a.ID), a.Creator.Bytes(), a.CreateTxn, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert app %d: %w", a.ID, err)
	}
	return nil
}

func (t *Tx) PutGlobals(ctx context.Context, appID uint64, g agreement.Globals) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM global_state WHERE app_id=?`, int64(appID)); err != nil {
		return fmt.Errorf("clear globals: %w", err)
	}
	for _, k := range g.Keys() {
		v := g[k]
		raw := v.Bytes
		if v.Type == agreement.ValueUint {
			raw = agreement.Itob(v.Uint)
		}
		if raw == nil {
			raw = []byte{}
		}
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO global_state(app_id,key,type,value) VALUES (?,?,?,?)`,
			int64(appID), []byte(k), int(v.Type), raw); err != nil {
			return fmt.Errorf("put global %q: %w", k, err)
		}
	}
	return nil
}

func (t *Tx) InsertTxn(ctx context.Context, txn domain.Txn) error {
	args, err := json.Marshal(txn.Args)
	if err != nil {
		return fmt.Errorf("marshal txn args: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO txns(id,app_id,sender,action,args_json,ts) VALUES (?,?,?,?,?,?)`,
		txn.ID, int64(txn.AppID), txn.Sender.Bytes(), txn.Action, string(args), txn.TS)
	return err
}

func (t *Tx) AppendEvent(ctx context.Context, evt domain.Event) (int64, error) {
	return t.events.Append(ctx, t.tx, evt)
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(row scanner) (domain.App, error) {
	var (
		a       domain.App
		id      int64
		creator []byte
	)
	err := row.Scan(&id, &creator, &a.CreateTxn, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ID = uint64(id)
	if a.Creator, err = agreement.AddressFromBytes(creator); err != nil {
		return a, fmt.Errorf("app %d creator: %w", a.ID, err)
	}
	return a, nil
}

func getApp(ctx context.Context, q querier, id uint64) (domain.App, error) {
	return scanApp(q.QueryRowContext(ctx, `SELECT id,creator,create_txn,created_at FROM apps WHERE id=?`, int64(id)))
}

func loadGlobals(ctx context.Context, q querier, appID uint64) (agreement.Globals, error) {
	rows, err := q.QueryContext(ctx, `SELECT key,type,value FROM global_state WHERE app_id=?`, int64(appID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	g := agreement.Globals{}
	for rows.Next() {
		var (
			key, raw []byte
			typ      int
		)
		if err := rows.Scan(&key, &typ, &raw); err != nil {
			return nil, err
		}
		v, err := decodeValue(agreement.ValueType(typ), raw)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", key, err)
		}
		g[string(key)] = v
	}
	return g, rows.Err()
}

func decodeValue(typ agreement.ValueType, raw []byte) (agreement.Value, error) {
	switch typ {
	case agreement.ValueBytes:
		return agreement.BytesValue(raw), nil
	case agreement.ValueUint:
		u, err := agreement.Btoi(raw)
		if err != nil {
			return agreement.Value{}, err
		}
		return agreement.UintValue(u), nil
	}
	return agreement.Value{}, fmt.Errorf("unknown value type %d", typ)
}
