package engine

import (
	"context"

	"closeline/internal/agreement"
	"closeline/internal/domain"
)

// Reader is the read side shared by a store and its transactions.
type Reader interface {
	GetApp(ctx context.Context, id uint64) (domain.App, error)
	LoadGlobals(ctx context.Context, appID uint64) (agreement.Globals, error)
}

// Store persists apps, their global state, applied txns and events.
// Lookups of unknown apps return domain.ErrNotFound.
type Store interface {
	Reader
	Begin(ctx context.Context) (StoreTx, error)
	ListApps(ctx context.Context) ([]domain.App, error)
	ListTxns(ctx context.Context, appID uint64) ([]domain.Txn, error)
	ListEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error)
	Close() error
}

// StoreTx is an atomic unit of writes. Nothing written through it is
// visible unless Commit succeeds; Rollback after Commit is a no-op.
type StoreTx interface {
	Reader
	NextAppID(ctx context.Context) (uint64, error)
	InsertApp(ctx context.Context, app domain.App) error
	// PutGlobals replaces the whole global state of the app.
	PutGlobals(ctx context.Context, appID uint64, g agreement.Globals) error
	InsertTxn(ctx context.Context, txn domain.Txn) error
	AppendEvent(ctx context.Context, evt domain.Event) (int64, error)
	Commit() error
	Rollback() error
}
