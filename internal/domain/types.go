package domain

import (
	"fmt"
	"time"
)

// SlotConfig is one configured remote-endpoint position. Credential holds
// ciphertext; it is decrypted only at connect time and never logged.
type SlotConfig struct {
	Slot       int    `json:"slot"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Credential string `json:"-"`
}

// Complete reports whether the slot has enough configuration to connect.
func (c SlotConfig) Complete() bool {
	return c.Host != "" && c.Port >= 1 && c.Port <= 65535 && c.Credential != ""
}

func (c SlotConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed"
)

// SlotState is the per-slot connection health surfaced for display.
type SlotState struct {
	Slot   int       `json:"slot"`
	Host   string    `json:"host,omitempty"`
	State  ConnState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome is the result of dispatching one command to one slot.
type Outcome struct {
	Slot     int
	Kind     OutcomeKind
	Response string
	Reason   string
}

// EntryView is a read-only snapshot of a schedule entry for display.
type EntryView struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Label    string    `json:"label"`
	NextFire time.Time `json:"next_fire"`
}
