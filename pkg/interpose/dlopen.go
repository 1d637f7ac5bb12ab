package interpose

import (
	"runtime"
	"sync/atomic"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

// resolvingTID holds the kernel thread id of the thread currently resolving
// the real dlopen, or 0. Resolving may itself trigger a dynamic-load event
// that re-enters Dlopen on the same thread before resolution completes;
// that reentry must fail safe instead of recursing.
var resolvingTID atomic.Int32

// Dlopen stands in for dlopen(3). A vendor-identifying module name fails as
// not found without delegation.
func Dlopen(name string, flags int) (uintptr, error) {
	st := ensureReady()
	if st.DenyModule(name) {
		return 0, unix.ENOENT
	}
	real, err := loadDlopenDelegate()
	if err != nil {
		return 0, err
	}
	return real(name, flags)
}

// loadDlopenDelegate resolves and memoizes the real dlopen. The resolving
// thread is pinned so a reentrant load event is recognized by thread id and
// refused; other threads wait for the resolution to publish.
func loadDlopenDelegate() (DlopenFunc, error) {
	if f := realDlopen.Load(); f != nil {
		return *f, nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	tid := int32(unix.Gettid())

	for !resolvingTID.CompareAndSwap(0, tid) {
		if resolvingTID.Load() == tid {
			return nil, unix.ENOENT
		}
		if f := realDlopen.Load(); f != nil {
			return *f, nil
		}
		runtime.Gosched()
	}
	defer resolvingTID.Store(0)

	if f := realDlopen.Load(); f != nil {
		return *f, nil
	}
	f := dlopenResolver()
	if f == nil {
		return nil, unix.ENOENT
	}
	realDlopen.Store(&f)
	return f, nil
}

// dlopenResolver produces the real dlopen implementation. Indirect because
// an embedding host resolves through the loader itself, which is exactly
// the reentrant case the guard above exists for.
var dlopenResolver = func() DlopenFunc { return rawDlopen }

// rawDlopen is the default delegate: a cgo-free call into the dynamic
// loader.
func rawDlopen(name string, flags int) (uintptr, error) {
	return purego.Dlopen(name, flags)
}
