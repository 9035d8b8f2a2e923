package model

import (
	"errors"
	"fmt"
)

var ErrUnknownVMState = errors.New("unknown vm state")

// VMState is the libvirt virDomainState enumeration.
type VMState uint8

const (
	VMStateNoState VMState = iota
	VMStateRunning
	VMStateBlocked
	VMStatePaused
	VMStateShutdown
	VMStateShutoff
	VMStateCrashed
	VMStatePMSuspended

	numVMStates
)

var vmStateLabels = [numVMStates]string{
	VMStateNoState:     "nostate",
	VMStateRunning:     "running",
	VMStateBlocked:     "blocked",
	VMStatePaused:      "paused",
	VMStateShutdown:    "shutdown",
	VMStateShutoff:     "shutoff",
	VMStateCrashed:     "crashed",
	VMStatePMSuspended: "pmsuspended",
}

func ParseVMState(code uint8) (VMState, error) {
	if code >= uint8(numVMStates) {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownVMState, code)
	}
	return VMState(code), nil
}

func (s VMState) String() string {
	if s >= numVMStates {
		return fmt.Sprintf("VMState(%d)", uint8(s))
	}
	return vmStateLabels[s]
}

// VMStates lists every state in code order.
func VMStates() []VMState {
	out := make([]VMState, 0, numVMStates)
	for s := VMStateNoState; s < numVMStates; s++ {
		out = append(out, s)
	}
	return out
}

// VMStateTally counts domains per state for one collection cycle.
type VMStateTally [numVMStates]uint64

func (t *VMStateTally) Add(s VMState) {
	t[s]++
}

func (t *VMStateTally) Count(s VMState) uint64 {
	return t[s]
}

func (t *VMStateTally) Total() uint64 {
	var n uint64
	for _, v := range t {
		n += v
	}
	return n
}
