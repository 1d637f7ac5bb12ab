package interpose

import (
	"errors"
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

// resetDlopen clears the memoized delegate and installs a resolver for one
// test.
func resetDlopen(t *testing.T, resolver func() DlopenFunc) {
	t.Helper()
	prevResolver := dlopenResolver
	dlopenResolver = resolver
	realDlopen.Store(nil)
	t.Cleanup(func() {
		dlopenResolver = prevResolver
		realDlopen.Store(nil)
		resolvingTID.Store(0)
	})
}

func TestDlopenDeniesVendorModulesWithoutResolving(t *testing.T) {
	pinState(t, testState())

	resolved := false
	resetDlopen(t, func() DlopenFunc {
		resolved = true
		return func(string, int) (uintptr, error) { return 1, nil }
	})

	_, err := Dlopen("libnvidia-ml.so.1", 0)
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("got %v, want ENOENT", err)
	}
	if resolved {
		t.Error("a denied module must not trigger real-symbol resolution")
	}
}

func TestDlopenDelegatesOtherModules(t *testing.T) {
	pinState(t, testState())

	resetDlopen(t, func() DlopenFunc {
		return func(name string, flags int) (uintptr, error) { return 42, nil }
	})

	handle, err := Dlopen("libvulkan.so.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if handle != 42 {
		t.Errorf("got handle %d", handle)
	}
}

func TestDlopenReentrantResolutionFailsSafe(t *testing.T) {
	pinState(t, testState())

	var reentrantErr error
	resetDlopen(t, func() DlopenFunc {
		// Resolving the real implementation triggers a dynamic-load event
		// that re-enters the hook on the same thread.
		_, reentrantErr = Dlopen("libinner.so", 0)
		return func(string, int) (uintptr, error) { return 7, nil }
	})

	handle, err := Dlopen("libouter.so", 0)
	if err != nil {
		t.Fatalf("outer load failed: %v", err)
	}
	if handle != 7 {
		t.Errorf("outer handle = %d", handle)
	}
	if !errors.Is(reentrantErr, unix.ENOENT) {
		t.Errorf("reentrant call: got %v, want ENOENT", reentrantErr)
	}
}

func TestDlopenResolutionIsMemoized(t *testing.T) {
	pinState(t, testState())

	resolutions := 0
	resetDlopen(t, func() DlopenFunc {
		resolutions++
		return func(string, int) (uintptr, error) { return 1, nil }
	})

	for i := 0; i < 5; i++ {
		if _, err := Dlopen("libz.so.1", 0); err != nil {
			t.Fatal(err)
		}
	}
	if resolutions != 1 {
		t.Errorf("real dlopen resolved %d times, want once", resolutions)
	}
}

func TestDlopenConcurrentFirstUse(t *testing.T) {
	pinState(t, testState())

	resetDlopen(t, func() DlopenFunc {
		return func(string, int) (uintptr, error) { return 9, nil }
	})

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Dlopen("libm.so.6", 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}
