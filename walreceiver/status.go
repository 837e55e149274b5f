package walreceiver

import "go.uber.org/atomic"

// statusOwner guards the published WalConnectionStatus the same way the
// config owner guards the global config: an atomic pointer swap, so
// readers never block on the writer and never observe a half-updated
// struct.
type statusOwner struct {
	ptr atomic.Pointer[WalConnectionStatus]
}

func newStatusOwner() *statusOwner {
	o := &statusOwner{}
	o.ptr.Store(&WalConnectionStatus{})
	return o
}

func (o *statusOwner) get() WalConnectionStatus { return *o.ptr.Load() }

func (o *statusOwner) update(fn func(*WalConnectionStatus)) WalConnectionStatus {
	clone := o.get()
	fn(&clone)
	o.ptr.Store(&clone)
	return clone
}
