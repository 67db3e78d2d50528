package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/engine"
)

// Key prefixes for LevelDB storage.
var (
	prefixApp    = []byte("a:") // a:<app> -> App JSON
	prefixGlobal = []byte("g:") // g:<app><key> -> type byte + value
	prefixTxn    = []byte("t:") // t:<app><seq> -> Txn JSON
	prefixEvent  = []byte("e:") // e:<id> -> Event JSON
	keyMetaApp   = []byte("m:app")
	keyMetaTxn   = []byte("m:txn")
	keyMetaEvent = []byte("m:event")
)

// Store implements engine.Store on LevelDB. Writes go through a LevelDB
// transaction so a rejected call leaves nothing behind.
type Store struct {
	db   *leveldb.DB
	path string
}

var _ engine.Store = (*Store)(nil)

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// iteratorCloser is the part of a LevelDB iterator the scans use.
type iteratorCloser interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func (s *Store) Begin(ctx context.Context) (engine.StoreTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("open transaction: %w", err)
	}
	return &Tx{tr: tr}, nil
}

func (s *Store) GetApp(_ context.Context, id uint64) (domain.App, error) {
	return getApp(s.db.Get, id)
}

func (s *Store) LoadGlobals(_ context.Context, appID uint64) (agreement.Globals, error) {
	it := s.db.NewIterator(util.BytesPrefix(globalPrefix(appID)), nil)
	return loadGlobals(it, appID)
}

func (s *Store) ListApps(_ context.Context) ([]domain.App, error) {
	it := s.db.NewIterator(util.BytesPrefix(prefixApp), nil)
	defer it.Release()
	var res []domain.App
	for it.Next() {
		var a domain.App
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, fmt.Errorf("decode app: %w", err)
		}
		res = append(res, a)
	}
	return res, it.Error()
}

func (s *Store) ListTxns(_ context.Context, appID uint64) ([]domain.Txn, error) {
	it := s.db.NewIterator(util.BytesPrefix(append(append([]byte{}, prefixTxn...), encodeUint64(appID)...)), nil)
	defer it.Release()
	var res []domain.Txn
	for it.Next() {
		var t domain.Txn
		if err := json.Unmarshal(it.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode txn: %w", err)
		}
		res = append(res, t)
	}
	return res, it.Error()
}

// ListEvents scans events in id order starting after q.AfterID.
func (s *Store) ListEvents(_ context.Context, q domain.EventQuery) ([]domain.Event, error) {
	start := eventKey(uint64(q.AfterID) + 1)
	if q.AfterID < 0 {
		start = eventKey(0)
	}
	it := s.db.NewIterator(&util.Range{Start: start, Limit: util.BytesPrefix(prefixEvent).Limit}, nil)
	defer it.Release()
	var res []domain.Event
	for it.Next() {
		var e domain.Event
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if !q.Match(e) {
			continue
		}
		res = append(res, e)
		if q.Limit > 0 && len(res) >= q.Limit {
			break
		}
	}
	return res, it.Error()
}

// Tx wraps a LevelDB transaction.
type Tx struct {
	tr   *leveldb.Transaction
	done bool
}

func (t *Tx) GetApp(_ context.Context, id uint64) (domain.App, error) {
	return getApp(t.tr.Get, id)
}

func (t *Tx) LoadGlobals(_ context.Context, appID uint64) (agreement.Globals, error) {
	it := t.tr.NewIterator(util.BytesPrefix(globalPrefix(appID)), nil)
	return loadGlobals(it, appID)
}

func (t *Tx) NextAppID(_ context.Context) (uint64, error) {
	n, err := t.counter(keyMetaApp)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (t *Tx) InsertApp(_ context.Context, a domain.App) error {
	key := appKey(a.ID)
	if ok, err := t.tr.Has(key, nil); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("insert app %d: already exists", a.ID)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := t.tr.Put(key, data, nil); err != nil {
		return err
	}
	last, err := t.counter(keyMetaApp)
	if err != nil {
		return err
	}
	if a.ID > last {
		return t.tr.Put(keyMetaApp, encodeUint64(a.ID), nil)
	}
	return nil
}

func (t *Tx) PutGlobals(_ context.Context, appID uint64, g agreement.Globals) error {
	it := t.tr.NewIterator(util.BytesPrefix(globalPrefix(appID)), nil)
	var stale [][]byte
	for it.Next() {
		stale = append(stale, append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, k := range stale {
		if err := t.tr.Delete(k, nil); err != nil {
			return err
		}
	}
	for _, k := range g.Keys() {
		if err := t.tr.Put(globalKey(appID, k), encodeValue(g[k]), nil); err != nil {
			return fmt.Errorf("put global %q: %w", k, err)
		}
	}
	return nil
}

func (t *Tx) InsertTxn(_ context.Context, txn domain.Txn) error {
	seq, err := t.bump(keyMetaTxn)
	if err != nil {
		return err
	}
	data, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	key := append(append(append([]byte{}, prefixTxn...), encodeUint64(txn.AppID)...), encodeUint64(seq)...)
	return t.tr.Put(key, data, nil)
}

func (t *Tx) AppendEvent(_ context.Context, evt domain.Event) (int64, error) {
	id, err := t.bump(keyMetaEvent)
	if err != nil {
		return 0, err
	}
	evt.ID = int64(id)
	data, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	if err := t.tr.Put(eventKey(id), data, nil); err != nil {
		return 0, err
	}
	return evt.ID, nil
}

func (t *Tx) Commit() error {
	t.done = true
	return t.tr.Commit()
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.tr.Discard()
	return nil
}

func (t *Tx) counter(key []byte) (uint64, error) {
	data, err := t.tr.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(data), nil
}

func (t *Tx) bump(key []byte) (uint64, error) {
	n, err := t.counter(key)
	if err != nil {
		return 0, err
	}
	n++
	return n, t.tr.Put(key, encodeUint64(n), nil)
}

func getApp(get func([]byte, *opt.ReadOptions) ([]byte, error), id uint64) (domain.App, error) {
	data, err := get(appKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return domain.App{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.App{}, err
	}
	var a domain.App
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.App{}, fmt.Errorf("decode app %d: %w", id, err)
	}
	return a, nil
}

func loadGlobals(it iteratorCloser, appID uint64) (agreement.Globals, error) {
	defer it.Release()
	prefix := len(globalPrefix(appID))
	g := agreement.Globals{}
	for it.Next() {
		key := string(it.Key()[prefix:])
		v, err := decodeValue(it.Value())
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", key, err)
		}
		g[key] = v
	}
	return g, it.Error()
}

func encodeValue(v agreement.Value) []byte {
	if v.Type == agreement.ValueUint {
		return append([]byte{byte(agreement.ValueUint)}, agreement.Itob(v.Uint)...)
	}
	return append([]byte{byte(agreement.ValueBytes)}, v.Bytes...)
}

func decodeValue(raw []byte) (agreement.Value, error) {
	if len(raw) == 0 {
		return agreement.Value{}, errors.New("empty value")
	}
	switch agreement.ValueType(raw[0]) {
	case agreement.ValueBytes:
		return agreement.BytesValue(append([]byte{}, raw[1:]...)), nil
	case agreement.ValueUint:
		u, err := agreement.Btoi(raw[1:])
		if err != nil {
			return agreement.Value{}, err
		}
		return agreement.UintValue(u), nil
	}
	return agreement.Value{}, fmt.Errorf("unknown value type %d", raw[0])
}

func appKey(id uint64) []byte {
	return append(append([]byte{}, prefixApp...), encodeUint64(id)...)
}

func globalPrefix(appID uint64) []byte {
	return append(append([]byte{}, prefixGlobal...), encodeUint64(appID)...)
}

func globalKey(appID uint64, key string) []byte {
	return append(globalPrefix(appID), key...)
}

func eventKey(id uint64) []byte {
	return append(append([]byte{}, prefixEvent...), encodeUint64(id)...)
}

func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
