package interpose

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// OpenatFunc is the delegate signature for the path-open operations. The
// mode argument is meaningful only when O_CREAT is set in flags; callers of
// the delegate always pass a value, so a delegate never reads an argument
// that was not supplied.
type OpenatFunc func(dirfd int, path string, flags int, mode uint32) (int, error)

// Openat2Func is the delegate signature for the extended open variant.
type Openat2Func func(dirfd int, path string, how *unix.OpenHow) (int, error)

// DlopenFunc is the delegate signature for the dynamic-library-load
// operation. It returns an opaque module handle.
type DlopenFunc func(name string, flags int) (uintptr, error)

type cachedOpen = atomic.Pointer[OpenatFunc]

// Per-operation caches for the real implementations. Each is resolved
// lazily on first use of that operation and memoized for the process
// lifetime; a racing duplicate resolution converges to the same delegate,
// so the last write wins harmlessly.
var (
	realOpen    cachedOpen
	realOpen64  cachedOpen
	realOpenat  cachedOpen
	realOpenat2 atomic.Pointer[Openat2Func]
	realDlopen  atomic.Pointer[DlopenFunc]
)

// Delegates carries replacement real-operation implementations. An embedding
// host (such as the C ABI shim, which resolves its delegates with
// dlsym(RTLD_NEXT, ...)) installs its own; a nil field keeps the raw-syscall
// default for that operation.
type Delegates struct {
	Open    OpenatFunc
	Open64  OpenatFunc
	Openat  OpenatFunc
	Openat2 Openat2Func
	Dlopen  DlopenFunc
}

// SetDelegates installs real-operation implementations. Intended for process
// setup, before the operations are first used.
func SetDelegates(d Delegates) {
	if d.Open != nil {
		realOpen.Store(&d.Open)
	}
	if d.Open64 != nil {
		realOpen64.Store(&d.Open64)
	}
	if d.Openat != nil {
		realOpenat.Store(&d.Openat)
	}
	if d.Openat2 != nil {
		realOpenat2.Store(&d.Openat2)
	}
	if d.Dlopen != nil {
		realDlopen.Store(&d.Dlopen)
	}
}

// rawOpenat is the default delegate: a direct path to the kernel that does
// not pass back through this package.
func rawOpenat(dirfd int, path string, flags int, mode uint32) (int, error) {
	return unix.Openat(dirfd, path, flags, mode)
}

func rawOpenat2(dirfd int, path string, how *unix.OpenHow) (int, error) {
	return unix.Openat2(dirfd, path, how)
}

func loadOpenDelegate(cache *atomic.Pointer[OpenatFunc]) OpenatFunc {
	if f := cache.Load(); f != nil {
		return *f
	}
	f := OpenatFunc(rawOpenat)
	cache.Store(&f)
	return f
}

func loadOpenat2Delegate() Openat2Func {
	if f := realOpenat2.Load(); f != nil {
		return *f
	}
	f := Openat2Func(rawOpenat2)
	realOpenat2.Store(&f)
	return f
}
