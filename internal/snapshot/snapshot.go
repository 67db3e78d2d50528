package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/engine"
)

const (
	Format  = "closeline.snapshot"
	Version = 1
)

type Header struct {
	Format     string `json:"format"`
	Version    int    `json:"version"`
	AppID      uint64 `json:"app_id"`
	Status     string `json:"status"`
	ExportedAt string `json:"exported_at"`
}

// Entry is one global key/value. Keys are raw bytes: milestone keys carry a
// binary index.
type Entry struct {
	Key   []byte              `json:"key"`
	Type  agreement.ValueType `json:"type"`
	Bytes []byte              `json:"bytes,omitempty"`
	Uint  uint64              `json:"uint,omitempty"`
}

type Snapshot struct {
	Header  Header         `json:"header"`
	App     domain.App     `json:"app"`
	Globals []Entry        `json:"globals"`
	Txns    []domain.Txn   `json:"txns,omitempty"`
	Events  []domain.Event `json:"events,omitempty"`
}

// Export captures the global state and history of one app.
func Export(ctx context.Context, eng *engine.Engine, appID uint64) (Snapshot, error) {
	app, err := eng.App(ctx, appID)
	if err != nil {
		return Snapshot{}, err
	}
	st, err := eng.Agreement(ctx, appID)
	if err != nil {
		return Snapshot{}, err
	}
	g := st.Globals()
	txns, err := eng.Txns(ctx, appID)
	if err != nil {
		return Snapshot{}, err
	}
	evts, err := eng.Events(ctx, domain.EventQuery{AppID: appID})
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Header: Header{
			Format:     Format,
			Version:    Version,
			AppID:      appID,
			Status:     st.Status.String(),
			ExportedAt: time.Now().UTC().Format(time.RFC3339),
		},
		App:    app,
		Txns:   txns,
		Events: evts,
	}
	for _, k := range g.Keys() {
		v := g[k]
		snap.Globals = append(snap.Globals, Entry{Key: []byte(k), Type: v.Type, Bytes: v.Bytes, Uint: v.Uint})
	}
	return snap, nil
}

// GlobalMap rebuilds the global map of the snapshot.
func (s Snapshot) GlobalMap() (agreement.Globals, error) {
	g := agreement.Globals{}
	for _, e := range s.Globals {
		if _, dup := g[string(e.Key)]; dup {
			return nil, fmt.Errorf("duplicate global %q", e.Key)
		}
		switch e.Type {
		case agreement.ValueBytes:
			g[string(e.Key)] = agreement.BytesValue(e.Bytes)
		case agreement.ValueUint:
			g[string(e.Key)] = agreement.UintValue(e.Uint)
		default:
			return nil, fmt.Errorf("global %q: unknown value type %d", e.Key, e.Type)
		}
	}
	return g, nil
}

// Import stores the snapshot state as a new app created by sender. History
// is not replayed; the new app starts with the imported globals only.
func Import(ctx context.Context, eng *engine.Engine, sender agreement.Address, snap Snapshot) (domain.App, error) {
	if err := snap.Header.check(); err != nil {
		return domain.App{}, err
	}
	g, err := snap.GlobalMap()
	if err != nil {
		return domain.App{}, err
	}
	return eng.Restore(ctx, sender, g)
}

func (h Header) check() error {
	if h.Format != Format {
		return fmt.Errorf("not a snapshot: format %q", h.Format)
	}
	if h.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	return nil
}

// Encode writes snap as a zstd stream: one JSON header line, then the body.
func Encode(w io.Writer, snap Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// Decode reads a stream written by Encode.
func Decode(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read snapshot header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode snapshot header: %w", err)
	}
	if err := h.check(); err != nil {
		return snap, err
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Header != h {
		return snap, errors.New("snapshot header does not match body")
	}
	return snap, nil
}

func Write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	return Decode(f)
}
