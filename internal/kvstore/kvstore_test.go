package kvstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/kvstore"
)

func seed(t *testing.T, s *kvstore.Store) uint64 {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	id, err := tx.NextAppID(ctx)
	require.NoError(t, err)
	creator := agreement.Address{7}
	require.NoError(t, tx.InsertApp(ctx, domain.App{ID: id, Creator: creator, CreateTxn: "t1", CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, tx.PutGlobals(ctx, id, agreement.Globals{
		agreement.KeyAdmin:          agreement.BytesValue(creator.Bytes()),
		agreement.KeyMilestoneCount: agreement.UintValue(0),
		agreement.MilestoneKey(0):   agreement.BytesValue([]byte("a|b|0")),
	}))
	require.NoError(t, tx.InsertTxn(ctx, domain.Txn{ID: "t1", AppID: id, Sender: creator, Action: "create", TS: "2024-01-01T00:00:00Z"}))
	evtID, err := tx.AppendEvent(ctx, domain.Event{AppID: id, TxnID: "t1", Type: agreement.EventInit, TS: "2024-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.Positive(t, evtID)
	require.NoError(t, tx.Commit())
	return id
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leveldb")
	s, err := kvstore.Open(path)
	require.NoError(t, err)
	id := seed(t, s)
	require.NoError(t, s.Close())

	s, err = kvstore.Open(path)
	require.NoError(t, err)
	defer s.Close()

	app, err := s.GetApp(ctx, id)
	require.NoError(t, err)
	require.Equal(t, agreement.Address{7}, app.Creator)

	g, err := s.LoadGlobals(ctx, id)
	require.NoError(t, err)
	require.Len(t, g, 3)
	require.Equal(t, "a|b|0", string(g[agreement.MilestoneKey(0)].Bytes))
	require.Equal(t, agreement.ValueUint, g[agreement.KeyMilestoneCount].Type)

	second := seed(t, s)
	require.Equal(t, id+1, second)

	evts, err := s.ListEvents(ctx, domain.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	require.Less(t, evts[0].ID, evts[1].ID)

	evts, err = s.ListEvents(ctx, domain.EventQuery{AppID: second})
	require.NoError(t, err)
	require.Len(t, evts, 1)

	txns, err := s.ListTxns(ctx, id)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s, err := kvstore.Open(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	defer s.Close()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.NextAppID(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertApp(ctx, domain.App{ID: id}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	_, err = s.GetApp(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	apps, err := s.ListApps(ctx)
	require.NoError(t, err)
	require.Empty(t, apps)

	// The id counter rolled back too.
	require.Equal(t, id, seed(t, s))
}
