// Package sos implements the emergency-alert state machine.
//
// A Machine owns the alert state in a single goroutine (Run). Button, crash and
// countdown inputs arrive as typed events on a channel, so transitions are
// serialised without locking the state fields. The machine hands every
// activation to its notifiers (SMS dispatcher, backend sync), which must not
// block.
package sos
