package snapshot_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"closeline/internal/agreement"
	"closeline/internal/app"
	"closeline/internal/config"
	"closeline/internal/engine"
	"closeline/internal/logging"
	"closeline/internal/snapshot"
)

var (
	admin   = agreement.Address{0xA0}
	buyer   = agreement.Address{0xB0}
	seller  = agreement.Address{0x5E}
	docHash = sha256.Sum256([]byte("deed"))
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := app.OpenStore(context.Background(), dir, config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(store, config.Default())
	eng.Log = logging.Discard()
	return eng
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	rcpt, err := eng.CreateApp(ctx, admin)
	require.NoError(t, err)
	id := rcpt.AppID
	for _, args := range [][][]byte{
		agreement.InitializeArgs(buyer, seller, 500, docHash[:]),
		agreement.AddMilestoneArgs("Inspection", "Home inspection"),
		agreement.CompleteMilestoneArgs(0),
	} {
		_, err := eng.Call(ctx, id, admin, args)
		require.NoError(t, err)
	}

	snap, err := snapshot.Export(ctx, eng, id)
	require.NoError(t, err)
	require.Equal(t, "PENDING", snap.Header.Status)
	require.Len(t, snap.Txns, 4)

	path := filepath.Join(t.TempDir(), "out", "app.snap")
	require.NoError(t, snapshot.Write(path, snap))
	read, err := snapshot.Read(path)
	require.NoError(t, err)
	require.Equal(t, snap.Globals, read.Globals)
	require.Equal(t, snap.Header, read.Header)

	other := newEngine(t)
	imported, err := snapshot.Import(ctx, other, admin, read)
	require.NoError(t, err)
	require.Equal(t, uint64(1), imported.ID)

	want, err := eng.Agreement(ctx, id)
	require.NoError(t, err)
	got, err := other.Agreement(ctx, imported.ID)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = other.Call(ctx, imported.ID, seller, agreement.VerifySignatureArgs(seller))
	require.NoError(t, err)
}

func TestDecodeRejectsForeignStreams(t *testing.T) {
	_, err := snapshot.Decode(bytes.NewReader([]byte("plain text")))
	require.Error(t, err)

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(`{"format":"other","version":1}` + "\n{}"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	_, err = snapshot.Decode(&buf)
	require.Error(t, err)
}

func TestImportRejectsInvalidGlobals(t *testing.T) {
	eng := newEngine(t)
	snap := snapshot.Snapshot{
		Header:  snapshot.Header{Format: snapshot.Format, Version: snapshot.Version},
		Globals: []snapshot.Entry{{Key: []byte("status"), Type: agreement.ValueBytes, Bytes: []byte("LIMBO")}},
	}
	_, err := snapshot.Import(context.Background(), eng, admin, snap)
	require.Error(t, err)

	snap.Globals = []snapshot.Entry{{Key: []byte("status"), Type: 9}}
	_, err = snapshot.Import(context.Background(), eng, admin, snap)
	require.Error(t, err)
}

func TestGlobalMap(t *testing.T) {
	snap := snapshot.Snapshot{Globals: []snapshot.Entry{
		{Key: []byte("status"), Type: agreement.ValueBytes, Bytes: []byte("PENDING")},
		{Key: []byte("amount"), Type: agreement.ValueUint, Uint: 500},
	}}
	g, err := snap.GlobalMap()
	require.NoError(t, err)
	require.Equal(t, agreement.BytesValue([]byte("PENDING")), g["status"])
	require.Equal(t, agreement.UintValue(500), g["amount"])

	snap.Globals = append(snap.Globals, snapshot.Entry{Key: []byte("amount"), Type: agreement.ValueUint, Uint: 1})
	_, err = snap.GlobalMap()
	require.ErrorContains(t, err, "duplicate global")
}
