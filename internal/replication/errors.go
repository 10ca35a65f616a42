package replication

import (
	"errors"
	"fmt"
)

// Phase names a state in the per-peer state machine: CheckOut -> Exchange ->
// Reconcile -> Fetch -> Write -> Release.
type Phase string

const (
	PhaseCheckout  Phase = "checkout"
	PhaseExchange  Phase = "exchange"
	PhaseReconcile Phase = "reconcile"
	PhaseFetch     Phase = "fetch"
	PhaseWrite     Phase = "write"
)

// ReplicationError scopes a failure to one peer iteration and the phase it
// occurred in: transport and protocol failures end that peer's iteration
// without affecting any other peer.
type ReplicationError struct {
	Phase Phase
	Peer  string
	Err   error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication: %s phase failed for peer %s: %v", e.Phase, e.Peer, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }

// Sentinel errors local stores and internal components use to signal
// well-known conditions the CORE treats specially.
var (
	// ErrAlreadyExists is returned by LocalStore.Put for idempotent
	// re-delivery of a blob already written; Writer treats it as success.
	ErrAlreadyExists = errors.New("replication: blob already exists")

	// ErrPartitionMismatch is a fatal invariant-breach for one slot: a
	// message or payload claimed a partition that does not match the
	// replica state it was delivered against.
	ErrPartitionMismatch = errors.New("replication: partition mismatch")

	// ErrResponseShapeMismatch means a response's slot count, or its
	// top-level error code, did not match what the request expected.
	ErrResponseShapeMismatch = errors.New("replication: response shape mismatch")
)
