// Package faultinject provides named fault-injection points used by
// tests to exercise crash-recovery and error paths that are otherwise
// hard to trigger deterministically (a download cancelled right before
// its final rename, a WAL connection that dies right after ingesting a
// record). Hooks are no-ops unless a test registers one; production
// builds never register any.
package faultinject

import "sync"

var (
	mu    sync.Mutex
	hooks = map[string]func() error{}
)

// Register installs fn to run whenever name fires; fn's return value
// becomes Fire's return value at that point, so a registered hook can
// make the call site fail. Intended for tests only; call with a nil fn
// to remove a previously registered hook.
func Register(name string, fn func() error) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		delete(hooks, name)
		return
	}
	hooks[name] = fn
}

// Fire runs the hook registered under name, if any, and returns
// whatever it returns. An unarmed name is a no-op that returns nil.
// Named fire points referenced elsewhere in this module:
//   - "remote-storage-download-pre-rename"
//   - "walreceiver-after-ingest"
func Fire(name string) error {
	mu.Lock()
	fn := hooks[name]
	mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}
