package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ModelKey is the hierarchical "owner/name" identifier for a catalog
// entry. It is used verbatim wherever it appears (Hub paths, filenames,
// repo IDs) and may itself contain additional slashes.
type ModelKey string

// Owner returns the first path segment of the key.
func (k ModelKey) Owner() string {
	s := string(k)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

// BaseName returns everything after the first path segment.
func (k ModelKey) BaseName() string {
	s := string(k)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// RunID identifies one orchestrator invocation for audit logging.
type RunID string

// NewRunID generates a fresh run identifier.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// ModelEntry is the durable catalog record for one candidate model.
// Field set and semantics match the catalog's public data model exactly;
// JSON tags back the backup/restore wire format, msgpack tags back the
// local durable snapshot.
type ModelEntry struct {
	Parameters    int64     `json:"parameters" msgpack:"parameters"`
	HasConfig     bool      `json:"has_config" msgpack:"has_config"`
	IsMOE         bool      `json:"is_moe" msgpack:"is_moe"`
	Added         time.Time `json:"added" msgpack:"added"`
	LastAttempt   time.Time `json:"last_attempt,omitempty" msgpack:"last_attempt"`
	SuccessDate   time.Time `json:"success_date,omitempty" msgpack:"success_date"`
	Attempts      int       `json:"attempts" msgpack:"attempts"`
	Converted     bool      `json:"converted" msgpack:"converted"`
	ErrorLog      []string  `json:"error_log" msgpack:"error_log"`
	Quantizations []string  `json:"quantizations" msgpack:"quantizations"`
}

// NewModelEntry returns a zero-value entry as created when a Hub
// enumeration (or the Batch Driver) first surfaces a candidate.
func NewModelEntry(parameters int64, hasConfig, isMOE bool) *ModelEntry {
	return &ModelEntry{
		Parameters:    parameters,
		HasConfig:     hasConfig,
		IsMOE:         isMOE,
		Added:         time.Now().UTC(),
		ErrorLog:      []string{},
		Quantizations: []string{},
	}
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// racing the original (slices are copied, the entry itself is not shared).
func (e *ModelEntry) Clone() *ModelEntry {
	errLog := make([]string, len(e.ErrorLog))
	copy(errLog, e.ErrorLog)
	quants := make([]string, len(e.Quantizations))
	copy(quants, e.Quantizations)

	return &ModelEntry{
		Parameters:    e.Parameters,
		HasConfig:     e.HasConfig,
		IsMOE:         e.IsMOE,
		Added:         e.Added,
		LastAttempt:   e.LastAttempt,
		SuccessDate:   e.SuccessDate,
		Attempts:      e.Attempts,
		Converted:     e.Converted,
		ErrorLog:      errLog,
		Quantizations: quants,
	}
}

// Eligible reports whether the scheduler should consider this entry for
// conversion, given the process-wide ceilings.
func (e *ModelEntry) Eligible(maxAttempts int, maxParameters int64) bool {
	if e.Converted || e.Attempts >= maxAttempts {
		return false
	}
	if e.Parameters < 0 || e.Parameters > maxParameters {
		return false
	}
	return e.HasConfig
}

// StalenessKey returns the timestamp used to sort unconverted entries:
// LastAttempt if set, else Added.
func (e *ModelEntry) StalenessKey() time.Time {
	if !e.LastAttempt.IsZero() {
		return e.LastAttempt
	}
	return e.Added
}
