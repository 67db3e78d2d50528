package agreement

import (
	"fmt"
	"sort"
)

// Global state keys.
const (
	KeyAdmin                    = "admin"
	KeyBuyer                    = "buyer"
	KeySeller                   = "seller"
	KeyAmount                   = "amount"
	KeyDocumentHash             = "document_hash"
	KeyStatus                   = "status"
	KeyExecutionDate            = "execution_date"
	KeyBuyerSigned              = "buyer_signed"
	KeySellerSigned             = "seller_signed"
	KeyBuyerSignedAt            = "buyer_signed_at"
	KeySellerSignedAt           = "seller_signed_at"
	KeyMilestoneCount           = "milestone_count"
	KeyCurrentMilestone         = "current_milestone"
	KeyMilestonePrefix          = "milestone_"
	KeyMilestoneCompletedPrefix = "milestone_completed_"
)

// DocumentHashLength is the size of the off-chain document hash.
const DocumentHashLength = 32

// ValueType tags a global value, numbered like ledger state values.
type ValueType uint8

const (
	ValueBytes ValueType = 1
	ValueUint  ValueType = 2
)

func (t ValueType) String() string {
	switch t {
	case ValueBytes:
		return "bytes"
	case ValueUint:
		return "uint"
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// Value is one typed global state value.
type Value struct {
	Type  ValueType `json:"type"`
	Bytes []byte    `json:"bytes,omitempty"`
	Uint  uint64    `json:"uint,omitempty"`
}

func BytesValue(b []byte) Value { return Value{Type: ValueBytes, Bytes: b} }
func UintValue(v uint64) Value  { return Value{Type: ValueUint, Uint: v} }

func boolValue(b bool) Value {
	if b {
		return UintValue(1)
	}
	return UintValue(0)
}

// Globals is the flat key/value layout persisted by the ledger.
type Globals map[string]Value

// Keys returns the keys in byte order.
func (g Globals) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Globals serializes the state into its persisted key/value layout. Keys are
// present only once the action that sets them has run.
func (s *State) Globals() Globals {
	g := Globals{}
	if !s.Created {
		return g
	}
	g[KeyAdmin] = BytesValue(s.Admin.Bytes())
	g[KeyStatus] = BytesValue([]byte(s.Status.String()))
	g[KeyMilestoneCount] = UintValue(s.MilestoneCount())
	g[KeyCurrentMilestone] = UintValue(s.CurrentMilestone)
	g[KeyBuyerSigned] = boolValue(s.BuyerSigned)
	g[KeySellerSigned] = boolValue(s.SellerSigned)
	if !s.Buyer.IsZero() {
		g[KeyBuyer] = BytesValue(s.Buyer.Bytes())
		g[KeySeller] = BytesValue(s.Seller.Bytes())
		g[KeyAmount] = UintValue(s.Amount)
		g[KeyDocumentHash] = BytesValue(append([]byte(nil), s.DocumentHash...))
	}
	if s.Status == StatusExecuted {
		g[KeyExecutionDate] = UintValue(s.ExecutionDate)
	}
	if s.BuyerSigned {
		g[KeyBuyerSignedAt] = UintValue(s.BuyerSignedAt)
	}
	if s.SellerSigned {
		g[KeySellerSignedAt] = UintValue(s.SellerSignedAt)
	}
	for i, m := range s.Milestones {
		g[MilestoneKey(uint64(i))] = BytesValue(EncodeMilestone(m))
		if m.Completed {
			g[MilestoneCompletedKey(uint64(i))] = BytesValue(Itob(m.CompletedAt))
		}
	}
	return g
}

// DecodeGlobals rebuilds a State from its persisted layout. Empty globals
// decode to a state that has not been created yet. Unknown keys are rejected.
func DecodeGlobals(g Globals) (State, error) {
	var s State
	if len(g) == 0 {
		return s, nil
	}
	d := globalsDecoder{g: g, seen: map[string]bool{}}
	s.Created = true
	s.Admin = d.address(KeyAdmin, true)
	status := d.bytes(KeyStatus, true)
	if d.err == nil {
		st, err := ParseStatus(string(status))
		if err != nil {
			return s, err
		}
		s.Status = st
	}
	count := d.uint(KeyMilestoneCount, true)
	s.CurrentMilestone = d.uint(KeyCurrentMilestone, true)
	s.BuyerSigned = d.flag(KeyBuyerSigned)
	s.SellerSigned = d.flag(KeySellerSigned)
	if _, ok := g[KeyBuyer]; ok {
		s.Buyer = d.address(KeyBuyer, true)
		s.Seller = d.address(KeySeller, true)
		s.Amount = d.uint(KeyAmount, true)
		s.DocumentHash = d.bytes(KeyDocumentHash, true)
	}
	s.ExecutionDate = d.uint(KeyExecutionDate, s.Status == StatusExecuted)
	s.BuyerSignedAt = d.uint(KeyBuyerSignedAt, s.BuyerSigned)
	s.SellerSignedAt = d.uint(KeySellerSignedAt, s.SellerSigned)
	if d.err != nil {
		return s, d.err
	}
	if count > uint64(len(g)) {
		return s, fmt.Errorf("milestone_count %d exceeds stored entries", count)
	}
	for i := uint64(0); i < count; i++ {
		rec := d.bytes(MilestoneKey(i), true)
		if d.err != nil {
			return s, d.err
		}
		m, err := DecodeMilestone(rec)
		if err != nil {
			return s, fmt.Errorf("milestone %d: %w", i, err)
		}
		if m.Completed {
			ts := d.bytes(MilestoneCompletedKey(i), true)
			if d.err != nil {
				return s, d.err
			}
			if m.CompletedAt, err = Btoi(ts); err != nil {
				return s, fmt.Errorf("milestone %d completion time: %w", i, err)
			}
		}
		s.Milestones = append(s.Milestones, m)
	}
	for k := range g {
		if !d.seen[k] {
			return s, fmt.Errorf("unexpected global key %q", k)
		}
	}
	if s.CurrentMilestone > count {
		return s, fmt.Errorf("current_milestone %d exceeds milestone_count %d", s.CurrentMilestone, count)
	}
	return s, nil
}

type globalsDecoder struct {
	g    Globals
	seen map[string]bool
	err  error
}

func (d *globalsDecoder) get(key string, want ValueType, required bool) (Value, bool) {
	if d.err != nil {
		return Value{}, false
	}
	v, ok := d.g[key]
	if !ok {
		if required {
			d.err = fmt.Errorf("missing global key %q", key)
		}
		return Value{}, false
	}
	d.seen[key] = true
	if v.Type != want {
		d.err = fmt.Errorf("global key %q has type %s, want %s", key, v.Type, want)
		return Value{}, false
	}
	return v, true
}

func (d *globalsDecoder) uint(key string, required bool) uint64 {
	v, _ := d.get(key, ValueUint, required)
	return v.Uint
}

func (d *globalsDecoder) flag(key string) bool {
	v, ok := d.get(key, ValueUint, true)
	if ok && v.Uint > 1 {
		d.err = fmt.Errorf("global key %q must be 0 or 1, got %d", key, v.Uint)
	}
	return v.Uint == 1
}

func (d *globalsDecoder) bytes(key string, required bool) []byte {
	v, _ := d.get(key, ValueBytes, required)
	return v.Bytes
}

func (d *globalsDecoder) address(key string, required bool) Address {
	b := d.bytes(key, required)
	if d.err != nil || b == nil {
		return Address{}
	}
	a, err := AddressFromBytes(b)
	if err != nil {
		d.err = fmt.Errorf("global key %q: %w", key, err)
	}
	return a
}
