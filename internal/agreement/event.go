package agreement

import (
	"encoding/json"
	"strconv"
)

// Event tags emitted by the state machine.
const (
	EventInit                    = "INIT"
	EventAgreementInitialized    = "AGREEMENT_INITIALIZED"
	EventMilestoneAdded          = "MILESTONE_ADDED"
	EventMilestoneCompleted      = "MILESTONE_COMPLETED"
	EventBuyerSignatureVerified  = "BUYER_SIGNATURE_VERIFIED"
	EventSellerSignatureVerified = "SELLER_SIGNATURE_VERIFIED"
	EventAgreementAutoExecuted   = "AGREEMENT_AUTO_EXECUTED"
	EventAgreementExecuted       = "AGREEMENT_EXECUTED"
	EventAgreementCancelled      = "AGREEMENT_CANCELLED"
)

// FieldKind says how a field value should be displayed. The raw bytes are
// what the log carries regardless of kind.
type FieldKind string

const (
	FieldBytes   FieldKind = "bytes"
	FieldString  FieldKind = "string"
	FieldAddress FieldKind = "address"
	FieldUint    FieldKind = "uint"
)

// Field is one labelled value of an event payload.
type Field struct {
	Label string
	Kind  FieldKind
	Value []byte
}

func addressField(label string, a Address) Field {
	return Field{Label: label, Kind: FieldAddress, Value: a.Bytes()}
}

func uintField(label string, v uint64) Field {
	return Field{Label: label, Kind: FieldUint, Value: Itob(v)}
}

func stringField(label, v string) Field {
	return Field{Label: label, Kind: FieldString, Value: []byte(v)}
}

// Display renders the value for humans: addresses in checksummed form, uints
// in decimal, strings verbatim and anything else as its raw bytes.
func (f Field) Display() string {
	switch f.Kind {
	case FieldAddress:
		if a, err := AddressFromBytes(f.Value); err == nil {
			return a.String()
		}
	case FieldUint:
		if v, err := Btoi(f.Value); err == nil {
			return strconv.FormatUint(v, 10)
		}
	}
	return string(f.Value)
}

type fieldJSON struct {
	Label   string    `json:"label"`
	Kind    FieldKind `json:"kind"`
	Display string    `json:"display"`
	Raw     []byte    `json:"raw"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(fieldJSON{Label: f.Label, Kind: f.Kind, Display: f.Display(), Raw: f.Value})
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var v fieldJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Field{Label: v.Label, Kind: v.Kind, Value: v.Raw}
	return nil
}

// Event is one structured audit record emitted by a successful call.
type Event struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields,omitempty"`
}

// Field returns the field with the given label.
func (e Event) Field(label string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Label == label {
			return f, true
		}
	}
	return Field{}, false
}

// Logs renders the raw log lines of the event. INIT is logged as the literal
// "INIT:admin=" followed by the raw admin bytes; every other event logs its
// tag and then one LABEL:value line per field.
func (e Event) Logs() [][]byte {
	if e.Name == EventInit {
		out := [][]byte{[]byte("INIT:admin=")}
		if f, ok := e.Field("admin"); ok {
			out = append(out, append([]byte(nil), f.Value...))
		}
		return out
	}
	out := make([][]byte, 0, len(e.Fields)+1)
	out = append(out, []byte(e.Name))
	for _, f := range e.Fields {
		line := make([]byte, 0, len(f.Label)+1+len(f.Value))
		line = append(line, f.Label...)
		line = append(line, ':')
		line = append(line, f.Value...)
		out = append(out, line)
	}
	return out
}
