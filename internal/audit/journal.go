// Package audit journals experiment and mote lifecycle events.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/dqmote/internal/models"
	"github.com/fentz26/dqmote/internal/store"
)

// Journal writes hashed-input event records for an audit trail.
type Journal struct {
	store *store.Store
}

// NewJournal creates a new journal.
func NewJournal(s *store.Store) *Journal {
	return &Journal{store: s}
}

// Record writes an event for a state-changing action.
func (j *Journal) Record(action string, inputs interface{}, outcome, experimentID, details string) (*models.Event, error) {
	return j.store.WriteEvent(action, hashInputs(inputs), outcome, experimentID, details)
}

// hashInputs creates a SHA256 hash of the inputs so an action can be
// matched against a rerun with the same parameters.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
