package model

import (
	"fmt"
	"slices"
	"time"
)

// Metadata keys written by branch operations and the lifecycle controller.
const (
	MetaMergeSource     = "merge_source"
	MetaMergeSourceHead = "merge_source_head"
	MetaCherryPickFrom  = "cherry_pick_from"
	MetaCycleID         = "cycle_id"
	MetaOrigin          = "origin"
)

// Commit groups event ids into one step of a branch's history.
type Commit struct {
	ID        string            `json:"id"`
	Branch    string            `json:"branch"`
	Events    []string          `json:"events"`
	Message   string            `json:"message"`
	ParentID  string            `json:"parent_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewCommit builds a commit and computes its ID.
func NewCommit(branch string, events []string, message, parentID string, ts time.Time, metadata map[string]string) Commit {
	c := Commit{
		Branch:    branch,
		Events:    slices.Clone(events),
		Message:   message,
		ParentID:  parentID,
		Timestamp: ts.UTC(),
		Metadata:  metadata,
	}
	if c.Events == nil {
		c.Events = []string{}
	}
	c.ID = c.ComputeID()
	return c
}

// ComputeID hashes the branch, the sorted event ids, the parent and the timestamp.
func (c Commit) ComputeID() string {
	events := slices.Clone(c.Events)
	slices.Sort(events)
	if events == nil {
		events = []string{}
	}
	return Hash(map[string]any{
		"branch":    c.Branch,
		"events":    events,
		"parent_id": nullable(c.ParentID),
		"timestamp": FormatTime(c.Timestamp),
	})
}

// ShortID is the first 8 characters of the commit id.
func (c Commit) ShortID() string {
	return ShortID(c.ID)
}

func (c Commit) String() string {
	return fmt.Sprintf("%s [%s] %s", c.ShortID(), c.Branch, c.Message)
}

// ShortID abbreviates a content address for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
