package domain

import (
	"errors"

	"closeline/internal/agreement"
)

var ErrNotFound = errors.New("not found")

// App is one agreement instance hosted by the ledger.
type App struct {
	ID        uint64            `json:"id"`
	Creator   agreement.Address `json:"creator"`
	CreateTxn string            `json:"create_txn"`
	CreatedAt string            `json:"created_at" format:"date-time"`
}

// Txn is an applied call. Rejected calls are never recorded.
type Txn struct {
	ID     string            `json:"id"`
	AppID  uint64            `json:"app_id"`
	Sender agreement.Address `json:"sender"`
	Action string            `json:"action"`
	Args   [][]byte          `json:"args"`
	TS     string            `json:"ts" format:"date-time"`
}

type Event struct {
	ID     int64             `json:"id"`
	AppID  uint64            `json:"app_id"`
	TxnID  string            `json:"txn_id"`
	Seq    int               `json:"seq"`
	TS     string            `json:"ts" format:"date-time"`
	Type   string            `json:"type"`
	Fields []agreement.Field `json:"fields"`
}

// Logs renders the event as the log lines the contract would emit.
func (e Event) Logs() [][]byte {
	return agreement.Event{Name: e.Type, Fields: e.Fields}.Logs()
}

// EventQuery filters event listings. Zero values match everything.
type EventQuery struct {
	AppID   uint64
	Type    string
	TxnID   string
	AfterID int64
	Limit   int
}

func (q EventQuery) Match(e Event) bool {
	if q.AppID != 0 && e.AppID != q.AppID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.TxnID != "" && e.TxnID != q.TxnID {
		return false
	}
	return e.ID > q.AfterID
}
