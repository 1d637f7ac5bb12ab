// Package interpose provides the entry points that stand in for the real
// file-open, directory-enumeration and dynamic-library-load operations.
//
// Each entry point ensures the engine is initialized, applies the hide
// decision, and either fails with the operation's standard "no such entry"
// error or delegates to the real implementation with all arguments intact.
package interpose

import (
	"golang.org/x/sys/unix"

	"github.com/nvhide/nvhide/pkg/engine"
)

// ensureReady is indirect so tests can pin a synthetic engine state.
var ensureReady = engine.EnsureReady

// Open stands in for open(2). The optional creation mode is consulted only
// when O_CREAT is set; an absent mode is never read.
func Open(path string, flags int, mode ...uint32) (int, error) {
	return openCommon(&realOpen, unix.AT_FDCWD, path, flags, mode)
}

// Open64 stands in for the large-file open variant.
func Open64(path string, flags int, mode ...uint32) (int, error) {
	return openCommon(&realOpen64, unix.AT_FDCWD, path, flags, mode)
}

// Openat stands in for openat(2).
func Openat(dirfd int, path string, flags int, mode ...uint32) (int, error) {
	return openCommon(&realOpenat, dirfd, path, flags, mode)
}

func openCommon(cache *cachedOpen, dirfd int, path string, flags int, mode []uint32) (int, error) {
	st := ensureReady()
	if st.DenyPath(path) {
		return -1, unix.ENOENT
	}
	real := loadOpenDelegate(cache)
	if flags&unix.O_CREAT != 0 {
		return real(dirfd, path, flags, creationMode(mode))
	}
	return real(dirfd, path, flags, 0)
}

// Openat2 stands in for openat2(2), the flags-struct open variant.
func Openat2(dirfd int, path string, how *unix.OpenHow) (int, error) {
	st := ensureReady()
	if st.DenyPath(path) {
		return -1, unix.ENOENT
	}
	return loadOpenat2Delegate()(dirfd, path, how)
}

// creationMode reads the optional mode argument. Reached only under
// O_CREAT; a caller that set the flag without supplying a mode gets 0.
func creationMode(mode []uint32) uint32 {
	if len(mode) > 0 {
		return mode[0]
	}
	return 0
}
