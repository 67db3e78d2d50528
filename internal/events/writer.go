package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"closeline/internal/agreement"
	"closeline/internal/domain"
)

// Writer appends event rows inside the caller's SQL transaction.
type Writer struct{}

// Append stores evt and returns its assigned id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.Event) (int64, error) {
	fields := evt.Fields
	if fields == nil {
		fields = []agreement.Field{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(app_id,txn_id,seq,ts,type,payload_json) VALUES (?,?,?,?,?,?)`,
		int64(evt.AppID), evt.TxnID, evt.Seq, evt.TS, evt.Type, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Decode parses a payload written by Append.
func Decode(payload string) ([]agreement.Field, error) {
	var fields []agreement.Field
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return fields, nil
}
