// Package queue holds outbound actions until the site confirms them.
package queue

import (
	"errors"
	"strings"
)

const (
	// Unsaved is the id of an action that was never persisted.
	Unsaved int64 = -1
	// NoParent marks a top-level action.
	NoParent int64 = -1
)

var (
	ErrInvalidAction = errors.New("queue: action has neither a target post nor a parent comment")
	ErrEmptyPayload  = errors.New("queue: empty payload fragment")
)

// PendingAction is one outbound action. Payloads are posted in order, each
// as its own comment.
type PendingAction struct {
	ID           int64
	TargetPostID string
	ParentID     int64
	Payloads     []string
}

// NewAction builds an unsaved action. A blank target requires parentID >= 0.
func NewAction(targetPostID string, parentID int64, payloads ...string) (PendingAction, error) {
	a := PendingAction{
		ID:           Unsaved,
		TargetPostID: strings.TrimSpace(targetPostID),
		ParentID:     parentID,
		Payloads:     append([]string(nil), payloads...),
	}
	if err := a.Validate(); err != nil {
		return PendingAction{}, err
	}
	return a, nil
}

// Validate checks the target/parent invariant.
func (a PendingAction) Validate() error {
	if strings.TrimSpace(a.TargetPostID) == "" && a.ParentID < 0 {
		return ErrInvalidAction
	}
	return nil
}

func (a PendingAction) Persisted() bool { return a.ID > 0 }

func (a PendingAction) HasParent() bool { return a.ParentID >= 0 }

// Equal is structural equality; ids are ignored.
func (a PendingAction) Equal(b PendingAction) bool {
	if a.ParentID != b.ParentID || a.TargetPostID != b.TargetPostID || len(a.Payloads) != len(b.Payloads) {
		return false
	}
	for i := range a.Payloads {
		if a.Payloads[i] != b.Payloads[i] {
			return false
		}
	}
	return true
}

// WithPayloads returns an unsaved copy aimed at the same place.
func (a PendingAction) WithPayloads(payloads ...string) PendingAction {
	return PendingAction{ID: Unsaved, TargetPostID: a.TargetPostID, ParentID: a.ParentID, Payloads: append([]string(nil), payloads...)}
}
