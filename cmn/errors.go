package cmn

import "fmt"

// ErrTransport wraps a failed remote-storage call that is safe to retry:
// network resets, throttling, transient 5xx from the object store.
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err) }
func (e *ErrTransport) Unwrap() error { return e.Err }

// ErrNotFound reports a missing remote object. Callers that scan a
// bucket-like prefix treat it as benign (the object raced with a
// concurrent delete); callers fetching one specific, expected object
// treat it as fatal.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string { return fmt.Sprintf("remote object not found: %s", e.Key) }

// ErrMissingLocalFile reports a layer file an index part names but that
// is no longer present on local disk, because garbage collection removed
// it between planning and execution. It is dropped from the current sync
// task, never surfaced as a failure.
type ErrMissingLocalFile struct {
	Path string
}

func (e *ErrMissingLocalFile) Error() string {
	return fmt.Sprintf("local layer file missing (gc race): %s", e.Path)
}

// ErrCorrupt reports data that fails a structural or checksum check and
// can never be recovered by retrying.
type ErrCorrupt struct {
	What string
	Err  error
}

func (e *ErrCorrupt) Error() string { return fmt.Sprintf("corrupt %s: %v", e.What, e.Err) }
func (e *ErrCorrupt) Unwrap() error { return e.Err }

// ErrPoisoned reports that a tenant's index-part state has permanently
// transitioned out of Present because of an earlier unrecoverable
// failure (see index.TenantIndexParts).
type ErrPoisoned struct {
	Tenant TenantID
}

func (e *ErrPoisoned) Error() string { return fmt.Sprintf("tenant %s index parts poisoned", e.Tenant) }

// ErrProtocol reports a violation of the replication wire protocol; it
// is always fatal for the WAL connection that produced it.
type ErrProtocol struct {
	Detail string
}

func (e *ErrProtocol) Error() string { return "replication protocol error: " + e.Detail }

// ErrCancelled reports a context cancellation observed at a suspension
// point. It is never user-visible as a failure; callers fold it into a
// clean shutdown path.
type ErrCancelled struct{}

func (e *ErrCancelled) Error() string { return "operation cancelled" }

// ErrAbort reports a caller invariant violation: the operation was
// asked to do something that should have been impossible given prior
// state (e.g. downloading a timeline that was never registered as
// awaiting download). It is never retried — the caller made a mistake,
// not the system.
type ErrAbort struct {
	Reason string
}

func (e *ErrAbort) Error() string { return "aborted: " + e.Reason }
