package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"closeline/internal/agreement"
	"closeline/internal/config"
	"closeline/internal/domain"
	"closeline/internal/events"
	"closeline/internal/metrics"
)

// Engine hosts agreement instances on a Store. Calls are applied one at a
// time; each runs in its own store transaction.
type Engine struct {
	Store   Store
	Config  *config.Config
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	Hub     *events.Hub
	Now     func() time.Time

	mu sync.Mutex
}

func New(store Store, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		Store:  store,
		Config: cfg,
		Log:    logrus.StandardLogger(),
		Hub:    events.NewHub(),
		Now:    time.Now,
	}
}

// Receipt describes an applied call.
type Receipt struct {
	TxnID     string         `json:"txn_id"`
	AppID     uint64         `json:"app_id"`
	Action    string         `json:"action"`
	Events    []domain.Event `json:"events"`
	Logs      [][]byte       `json:"logs"`
	Timestamp uint64         `json:"timestamp"`
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e *Engine) limits() config.Limits {
	if e.Config == nil {
		return config.Default().Limits
	}
	return e.Config.Limits
}

// CreateApp creates a new agreement instance administered by sender.
func (e *Engine) CreateApp(ctx context.Context, sender agreement.Address) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	rcpt, err := e.apply(ctx, 0, agreement.Call{Sender: sender, Create: true})
	e.finish(agreement.ActionCreate.String(), rcpt, sender, err, start)
	if err == nil {
		e.Metrics.IncApps()
	}
	return rcpt, err
}

// Call applies args from sender to app appID.
func (e *Engine) Call(ctx context.Context, appID uint64, sender agreement.Address, args [][]byte) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	rcpt, err := e.apply(ctx, appID, agreement.Call{Sender: sender, Args: args})
	action := "unknown"
	if a, perr := (agreement.Call{Args: args}).Action(); perr == nil {
		action = a.String()
	}
	rcpt.AppID = appID
	e.finish(action, rcpt, sender, err, start)
	return rcpt, err
}

// Restore stores a complete global state under a fresh app id. The globals
// must decode to a created agreement.
func (e *Engine) Restore(ctx context.Context, creator agreement.Address, g agreement.Globals) (domain.App, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := agreement.DecodeGlobals(g)
	if err != nil {
		return domain.App{}, fmt.Errorf("restore: %w", err)
	}
	if !st.Created {
		return domain.App{}, errors.New("restore: globals hold no agreement")
	}
	g = st.Globals()
	if err := checkLimits(e.limits(), g); err != nil {
		return domain.App{}, err
	}
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return domain.App{}, err
	}
	defer tx.Rollback()
	id, err := tx.NextAppID(ctx)
	if err != nil {
		return domain.App{}, err
	}
	app := domain.App{
		ID:        id,
		Creator:   creator,
		CreateTxn: uuid.NewString(),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := tx.InsertApp(ctx, app); err != nil {
		return domain.App{}, err
	}
	if err := tx.PutGlobals(ctx, id, g); err != nil {
		return domain.App{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.App{}, err
	}
	e.Metrics.IncApps()
	e.log().WithFields(logrus.Fields{"app": id, "status": st.Status}).Info("app restored")
	return app, nil
}

// apply runs one call inside a store transaction. appID is ignored for
// creation calls, which allocate a new id.
func (e *Engine) apply(ctx context.Context, appID uint64, call agreement.Call) (Receipt, error) {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback()

	var st agreement.State
	if call.Create {
		if appID, err = tx.NextAppID(ctx); err != nil {
			return Receipt{}, fmt.Errorf("allocate app id: %w", err)
		}
	} else {
		if _, err := tx.GetApp(ctx, appID); err != nil {
			return Receipt{}, fmt.Errorf("app %d: %w", appID, err)
		}
		g, err := tx.LoadGlobals(ctx, appID)
		if err != nil {
			return Receipt{}, fmt.Errorf("load app %d: %w", appID, err)
		}
		if st, err = agreement.DecodeGlobals(g); err != nil {
			return Receipt{}, fmt.Errorf("app %d: %w", appID, err)
		}
	}

	now := e.now().UTC()
	call.Now = uint64(now.Unix())
	emitted, err := agreement.Apply(&st, call)
	if err != nil {
		return Receipt{}, err
	}
	g := st.Globals()
	if err := checkLimits(e.limits(), g); err != nil {
		return Receipt{}, err
	}

	action, _ := call.Action()
	ts := now.Format(time.RFC3339)
	txn := domain.Txn{
		ID:     uuid.NewString(),
		AppID:  appID,
		Sender: call.Sender,
		Action: action.String(),
		Args:   call.Args,
		TS:     ts,
	}
	if call.Create {
		if err := tx.InsertApp(ctx, domain.App{ID: appID, Creator: call.Sender, CreateTxn: txn.ID, CreatedAt: ts}); err != nil {
			return Receipt{}, err
		}
	}
	if err := tx.PutGlobals(ctx, appID, g); err != nil {
		return Receipt{}, err
	}
	if err := tx.InsertTxn(ctx, txn); err != nil {
		return Receipt{}, fmt.Errorf("insert txn: %w", err)
	}
	rcpt := Receipt{TxnID: txn.ID, AppID: appID, Action: txn.Action, Timestamp: call.Now}
	for i, ev := range emitted {
		de := domain.Event{AppID: appID, TxnID: txn.ID, Seq: i, TS: ts, Type: ev.Name, Fields: ev.Fields}
		id, err := tx.AppendEvent(ctx, de)
		if err != nil {
			return Receipt{}, fmt.Errorf("append event: %w", err)
		}
		de.ID = id
		rcpt.Events = append(rcpt.Events, de)
		rcpt.Logs = append(rcpt.Logs, ev.Logs()...)
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("commit: %w", err)
	}
	return rcpt, nil
}

// finish logs, counts and publishes the outcome of a call.
func (e *Engine) finish(action string, rcpt Receipt, sender agreement.Address, err error, start time.Time) {
	log := e.log().WithFields(logrus.Fields{
		"app":    rcpt.AppID,
		"action": action,
		"sender": sender.String(),
	})
	switch {
	case err == nil:
		e.Metrics.ObserveCall(action, metrics.ResultApplied, time.Since(start))
		log.WithField("txn", rcpt.TxnID).Info("call applied")
		for _, ev := range rcpt.Events {
			e.Metrics.ObserveEvent(ev.Type)
		}
		e.Hub.Publish(rcpt.Events...)
	case IsRejection(err):
		e.Metrics.ObserveCall(action, metrics.ResultRejected, time.Since(start))
		log.WithError(err).Info("call rejected")
	default:
		e.Metrics.ObserveCall(action, metrics.ResultError, time.Since(start))
		log.WithError(err).Error("call failed")
	}
}

// IsRejection reports whether err is a refusal of the call itself rather
// than a host failure.
func IsRejection(err error) bool {
	var rej *agreement.RejectError
	var lim *StorageLimitError
	return errors.As(err, &rej) || errors.As(err, &lim) || errors.Is(err, domain.ErrNotFound)
}

// Agreement returns the decoded state of an app.
func (e *Engine) Agreement(ctx context.Context, appID uint64) (agreement.State, error) {
	g, err := e.Globals(ctx, appID)
	if err != nil {
		return agreement.State{}, err
	}
	st, err := agreement.DecodeGlobals(g)
	if err != nil {
		return agreement.State{}, fmt.Errorf("app %d: %w", appID, err)
	}
	return st, nil
}

// Globals returns the raw global state of an app.
func (e *Engine) Globals(ctx context.Context, appID uint64) (agreement.Globals, error) {
	if _, err := e.Store.GetApp(ctx, appID); err != nil {
		return nil, fmt.Errorf("app %d: %w", appID, err)
	}
	return e.Store.LoadGlobals(ctx, appID)
}

func (e *Engine) App(ctx context.Context, appID uint64) (domain.App, error) {
	app, err := e.Store.GetApp(ctx, appID)
	if err != nil {
		return domain.App{}, fmt.Errorf("app %d: %w", appID, err)
	}
	return app, nil
}

func (e *Engine) Apps(ctx context.Context) ([]domain.App, error) {
	return e.Store.ListApps(ctx)
}

func (e *Engine) Events(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	return e.Store.ListEvents(ctx, q)
}

func (e *Engine) Txns(ctx context.Context, appID uint64) ([]domain.Txn, error) {
	if _, err := e.Store.GetApp(ctx, appID); err != nil {
		return nil, fmt.Errorf("app %d: %w", appID, err)
	}
	return e.Store.ListTxns(ctx, appID)
}
