package agreement

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	milestoneSep       = '|'
	flagPending   byte = '0'
	flagCompleted byte = '1'
)

// Itob encodes v as 8 big-endian bytes.
func Itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Btoi decodes up to 8 big-endian bytes. An empty slice decodes to 0.
func Btoi(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("btoi arg too long, got [%d]bytes", len(b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// MilestoneKey is the global key holding the i-th milestone record.
func MilestoneKey(i uint64) string {
	return KeyMilestonePrefix + string(Itob(i))
}

// MilestoneCompletedKey is the global key holding the completion time of milestone i.
func MilestoneCompletedKey(i uint64) string {
	return KeyMilestoneCompletedPrefix + string(Itob(i))
}

// EncodeMilestone renders the pipe-delimited wire record title|description|flag.
func EncodeMilestone(m Milestone) []byte {
	flag := flagPending
	if m.Completed {
		flag = flagCompleted
	}
	out := make([]byte, 0, len(m.Title)+len(m.Description)+3)
	out = append(out, m.Title...)
	out = append(out, milestoneSep)
	out = append(out, m.Description...)
	out = append(out, milestoneSep, flag)
	return out
}

// DecodeMilestone parses a wire record. The title ends at the first '|' and the
// completion flag is the single trailing byte.
func DecodeMilestone(b []byte) (Milestone, error) {
	if len(b) < 3 {
		return Milestone{}, fmt.Errorf("milestone record too short (%d bytes)", len(b))
	}
	flag := b[len(b)-1]
	if b[len(b)-2] != milestoneSep {
		return Milestone{}, fmt.Errorf("milestone record missing flag separator")
	}
	body := b[:len(b)-2]
	i := bytes.IndexByte(body, milestoneSep)
	if i < 0 {
		return Milestone{}, fmt.Errorf("milestone record missing title separator")
	}
	m := Milestone{
		Title:       string(body[:i]),
		Description: string(body[i+1:]),
	}
	switch flag {
	case flagPending:
	case flagCompleted:
		m.Completed = true
	default:
		return Milestone{}, fmt.Errorf("milestone record has invalid completion flag %q", flag)
	}
	return m, nil
}
