package engine_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"closeline/internal/agreement"
	"closeline/internal/config"
	"closeline/internal/db"
	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/kvstore"
	"closeline/internal/logging"
	"closeline/internal/metrics"
	"closeline/internal/migrate"
	"closeline/internal/repo"
)

var (
	admin    = agreement.Address{0xA0}
	buyer    = agreement.Address{0xB0}
	seller   = agreement.Address{0x5E}
	stranger = agreement.Address{0xFF}
	docHash  = sha256.Sum256([]byte("closing agreement v1"))
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	clock  time.Time
}

func openSQLite(t *testing.T) engine.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}
}

func openLevelDB(t *testing.T) engine.Store {
	t.Helper()
	s, err := kvstore.Open(db.LevelDBPath(t.TempDir()))
	require.NoError(t, err)
	return s
}

var backends = map[string]func(*testing.T) engine.Store{
	config.DriverSQLite:  openSQLite,
	config.DriverLevelDB: openLevelDB,
}

func newTestEnv(t *testing.T, open func(*testing.T) engine.Store) *testEnv {
	t.Helper()
	store := open(t)
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(store, config.Default())
	eng.Log = logging.Discard()
	eng.Metrics = metrics.New()
	env := &testEnv{Engine: eng, Ctx: context.Background(), clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng.Now = func() time.Time {
		env.clock = env.clock.Add(time.Second)
		return env.clock
	}
	return env
}

func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	for name, open := range backends {
		open := open
		t.Run(name, func(t *testing.T) {
			fn(t, newTestEnv(t, open))
		})
	}
}

func (env *testEnv) create(t *testing.T) uint64 {
	t.Helper()
	rcpt, err := env.Engine.CreateApp(env.Ctx, admin)
	require.NoError(t, err)
	return rcpt.AppID
}

func (env *testEnv) must(t *testing.T, appID uint64, sender agreement.Address, args [][]byte) engine.Receipt {
	t.Helper()
	rcpt, err := env.Engine.Call(env.Ctx, appID, sender, args)
	require.NoError(t, err)
	return rcpt
}

func TestFullClosing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		id := env.create(t)
		require.Equal(t, uint64(1), id)

		env.must(t, id, admin, agreement.InitializeArgs(buyer, seller, 250_000, docHash[:]))
		env.must(t, id, admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
		env.must(t, id, buyer, agreement.AddMilestoneArgs("Closing", "Final closing"))
		env.must(t, id, buyer, agreement.CompleteMilestoneArgs(0))
		env.must(t, id, seller, agreement.CompleteMilestoneArgs(1))
		env.must(t, id, buyer, agreement.VerifySignatureArgs(buyer))
		rcpt := env.must(t, id, seller, agreement.VerifySignatureArgs(seller))

		require.Len(t, rcpt.Events, 2)
		require.Equal(t, agreement.EventAgreementAutoExecuted, rcpt.Events[1].Type)
		require.Equal(t, "AGREEMENT_AUTO_EXECUTED", string(rcpt.Logs[1]))
		require.Equal(t, append([]byte("TIMESTAMP:"), agreement.Itob(rcpt.Timestamp)...), rcpt.Logs[2])

		st, err := env.Engine.Agreement(env.Ctx, id)
		require.NoError(t, err)
		require.Equal(t, agreement.StatusExecuted, st.Status)
		require.Equal(t, rcpt.Timestamp, st.ExecutionDate)
		require.Equal(t, uint64(2), st.CurrentMilestone)

		txns, err := env.Engine.Txns(env.Ctx, id)
		require.NoError(t, err)
		require.Len(t, txns, 8)
		require.Equal(t, "create", txns[0].Action)
		require.Equal(t, "verify_signature", txns[7].Action)
		require.Equal(t, seller, txns[7].Sender)

		evts, err := env.Engine.Events(env.Ctx, domain.EventQuery{AppID: id})
		require.NoError(t, err)
		require.Len(t, evts, 9)
		require.Equal(t, agreement.EventInit, evts[0].Type)
		for i := 1; i < len(evts); i++ {
			require.Greater(t, evts[i].ID, evts[i-1].ID)
		}

		_, err = env.Engine.Call(env.Ctx, id, admin, agreement.CancelAgreementArgs())
		require.ErrorIs(t, err, agreement.ErrState)
	})
}

func TestRejectedCallLeavesNoTrace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		id := env.create(t)
		before, err := env.Engine.Globals(env.Ctx, id)
		require.NoError(t, err)

		_, err = env.Engine.Call(env.Ctx, id, stranger, agreement.InitializeArgs(buyer, seller, 1, docHash[:]))
		require.ErrorIs(t, err, agreement.ErrUnauthorized)
		require.True(t, engine.IsRejection(err))

		after, err := env.Engine.Globals(env.Ctx, id)
		require.NoError(t, err)
		require.Equal(t, before, after)

		txns, err := env.Engine.Txns(env.Ctx, id)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		evts, err := env.Engine.Events(env.Ctx, domain.EventQuery{AppID: id})
		require.NoError(t, err)
		require.Len(t, evts, 1)
	})
}

func TestUnknownApp(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		_, err := env.Engine.Call(env.Ctx, 42, admin, agreement.CancelAgreementArgs())
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = env.Engine.Agreement(env.Ctx, 42)
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = env.Engine.Txns(env.Ctx, 42)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestAppsAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		a := env.create(t)
		b := env.create(t)
		require.NotEqual(t, a, b)

		env.must(t, a, admin, agreement.InitializeArgs(buyer, seller, 10, docHash[:]))
		env.must(t, b, admin, agreement.CancelAgreementArgs())

		sa, err := env.Engine.Agreement(env.Ctx, a)
		require.NoError(t, err)
		sb, err := env.Engine.Agreement(env.Ctx, b)
		require.NoError(t, err)
		require.Equal(t, agreement.StatusPending, sa.Status)
		require.Equal(t, agreement.StatusCancelled, sb.Status)

		apps, err := env.Engine.Apps(env.Ctx)
		require.NoError(t, err)
		require.Len(t, apps, 2)
		require.Equal(t, admin, apps[0].Creator)

		evts, err := env.Engine.Events(env.Ctx, domain.EventQuery{Type: agreement.EventAgreementCancelled})
		require.NoError(t, err)
		require.Len(t, evts, 1)
		require.Equal(t, b, evts[0].AppID)
		by, ok := agreement.Event{Name: evts[0].Type, Fields: evts[0].Fields}.Field("BY")
		require.True(t, ok)
		require.Equal(t, admin.String(), by.Display())
	})
}

func TestEventQueryCursor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		id := env.create(t)
		env.must(t, id, admin, agreement.AddMilestoneArgs("a", "1"))
		env.must(t, id, admin, agreement.AddMilestoneArgs("b", "2"))
		rcpt := env.must(t, id, admin, agreement.AddMilestoneArgs("c", "3"))

		all, err := env.Engine.Events(env.Ctx, domain.EventQuery{AppID: id})
		require.NoError(t, err)
		require.Len(t, all, 4)

		page, err := env.Engine.Events(env.Ctx, domain.EventQuery{AppID: id, AfterID: all[0].ID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, all[1].ID, page[0].ID)

		byTxn, err := env.Engine.Events(env.Ctx, domain.EventQuery{TxnID: rcpt.TxnID})
		require.NoError(t, err)
		require.Len(t, byTxn, 1)
		title, _ := agreement.Event{Name: byTxn[0].Type, Fields: byTxn[0].Fields}.Field("TITLE")
		require.Equal(t, "c", title.Display())
	})
}

func TestStorageLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		env.Engine.Config.Limits.MaxGlobalEntries = 8
		id := env.create(t)
		env.must(t, id, admin, agreement.AddMilestoneArgs("a", ""))
		env.must(t, id, admin, agreement.AddMilestoneArgs("b", ""))
		_, err := env.Engine.Call(env.Ctx, id, admin, agreement.AddMilestoneArgs("c", ""))
		var lim *engine.StorageLimitError
		require.True(t, errors.As(err, &lim), "got %v", err)
		require.Equal(t, "max_global_entries", lim.Limit)

		st, err := env.Engine.Agreement(env.Ctx, id)
		require.NoError(t, err)
		require.Equal(t, uint64(2), st.MilestoneCount())

		env.Engine.Config.Limits.MaxGlobalEntries = 64
		env.Engine.Config.Limits.MaxEntryBytes = 40
		_, err = env.Engine.Call(env.Ctx, id, admin, agreement.AddMilestoneArgs("a long title", "and a longer description"))
		require.True(t, errors.As(err, &lim))
		require.Equal(t, "max_entry_bytes", lim.Limit)
	})
}

func TestHubReceivesCommittedEvents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		id := env.create(t)
		sub := env.Engine.Hub.Subscribe(id)
		defer sub.Close()

		_, err := env.Engine.Call(env.Ctx, id, stranger, agreement.CancelAgreementArgs())
		require.Error(t, err)
		env.must(t, id, admin, agreement.CancelAgreementArgs())

		select {
		case evt := <-sub.C:
			require.Equal(t, agreement.EventAgreementCancelled, evt.Type)
			require.NotZero(t, evt.ID)
		case <-time.After(time.Second):
			t.Fatal("no event published")
		}
		require.Empty(t, sub.C)
	})
}

func TestRestore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		id := env.create(t)
		env.must(t, id, admin, agreement.InitializeArgs(buyer, seller, 99, docHash[:]))
		g, err := env.Engine.Globals(env.Ctx, id)
		require.NoError(t, err)

		app, err := env.Engine.Restore(env.Ctx, stranger, g)
		require.NoError(t, err)
		require.NotEqual(t, id, app.ID)

		restored, err := env.Engine.Agreement(env.Ctx, app.ID)
		require.NoError(t, err)
		orig, err := env.Engine.Agreement(env.Ctx, id)
		require.NoError(t, err)
		require.Equal(t, orig, restored)

		env.must(t, app.ID, buyer, agreement.VerifySignatureArgs(buyer))

		_, err = env.Engine.Restore(env.Ctx, stranger, agreement.Globals{})
		require.Error(t, err)
	})
}
