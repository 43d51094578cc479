package model

import (
	"fmt"
	"time"
)

// MainBranch is the protected default branch.
const MainBranch = "main"

// Branch is a named, mutable pointer into the commit chain. Each branch is an
// isolated memory context (a persona).
type Branch struct {
	Name      string            `json:"name"`
	Head      string            `json:"head,omitempty"`
	Persona   string            `json:"persona,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (b Branch) String() string {
	head := "empty"
	if b.Head != "" {
		head = ShortID(b.Head)
	}
	if b.Persona != "" {
		return fmt.Sprintf("%s (%s) -> %s", b.Name, b.Persona, head)
	}
	return fmt.Sprintf("%s -> %s", b.Name, head)
}

// Slot is one key of the materialized view: the event currently holding the
// key and every event id that ever touched it.
type Slot struct {
	Key     string   `json:"key"`
	Current Event    `json:"current"`
	History []string `json:"history"`
}
