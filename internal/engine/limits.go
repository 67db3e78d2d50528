package engine

import (
	"fmt"

	"closeline/internal/agreement"
	"closeline/internal/config"
)

// StorageLimitError reports global state that exceeds the configured limits.
type StorageLimitError struct {
	Limit string
	Key   string
	Got   int
	Max   int
}

func (e *StorageLimitError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage limit %s exceeded by %q: %d > %d", e.Limit, e.Key, e.Got, e.Max)
	}
	return fmt.Sprintf("storage limit %s exceeded: %d > %d", e.Limit, e.Got, e.Max)
}

// valueSize is the stored size of v: uints count as 8 bytes.
func valueSize(v agreement.Value) int {
	if v.Type == agreement.ValueUint {
		return 8
	}
	return len(v.Bytes)
}

func checkLimits(l config.Limits, g agreement.Globals) error {
	if l.MaxGlobalEntries > 0 && len(g) > l.MaxGlobalEntries {
		return &StorageLimitError{Limit: "max_global_entries", Got: len(g), Max: l.MaxGlobalEntries}
	}
	for _, k := range g.Keys() {
		if l.MaxKeyBytes > 0 && len(k) > l.MaxKeyBytes {
			return &StorageLimitError{Limit: "max_key_bytes", Key: k, Got: len(k), Max: l.MaxKeyBytes}
		}
		if n := len(k) + valueSize(g[k]); l.MaxEntryBytes > 0 && n > l.MaxEntryBytes {
			return &StorageLimitError{Limit: "max_entry_bytes", Key: k, Got: n, Max: l.MaxEntryBytes}
		}
	}
	return nil
}
