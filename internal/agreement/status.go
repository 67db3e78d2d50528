package agreement

import "fmt"

// Status is the lifecycle phase of an agreement.
type Status uint8

const (
	StatusDraft Status = iota
	StatusPending
	StatusExecuted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusPending:
		return "PENDING"
	case StatusExecuted:
		return "EXECUTED"
	case StatusCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "DRAFT":
		return StatusDraft, nil
	case "PENDING":
		return StatusPending, nil
	case "EXECUTED":
		return StatusExecuted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further state-mutating action is accepted.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the lifecycle:
// DRAFT -> PENDING -> EXECUTED, DRAFT|PENDING -> CANCELLED.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusPending || to == StatusCancelled
	case StatusPending:
		return to == StatusExecuted || to == StatusCancelled
	}
	return false
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
