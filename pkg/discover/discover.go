package discover

import (
	"path"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// DefaultClassDir is the sysfs directory listing DRM devices.
	DefaultClassDir = "/sys/class/drm"

	// NVIDIAVendorID is the PCI vendor identifier for NVIDIA Corporation.
	NVIDIAVendorID = 0x10de

	// MaxNodes bounds the discovered DRM node set. Overflow is dropped.
	MaxNodes = 64

	// MaxBusAddrs bounds the discovered PCI bus address set.
	MaxBusAddrs = 8
)

// Devices holds the DRM node basenames and PCI bus addresses (BDFs) that
// belong to the hidden vendor. Immutable once Scan returns.
type Devices struct {
	Nodes    []string
	BusAddrs []string
}

// HasNode reports whether name is a discovered DRM node basename.
func (d *Devices) HasNode(name string) bool {
	for _, n := range d.Nodes {
		if n == name {
			return true
		}
	}
	return false
}

// Scanner enumerates DRM devices and classifies them by PCI vendor.
//
// Every read goes through raw openat/getdents64/readlinkat so that a scan
// never calls back into the interposed file operations while the target
// process is still inside its loader bootstrap.
type Scanner struct {
	classDir string
	vendor   uint64
}

// NewScanner returns a Scanner for the system DRM class directory.
func NewScanner() *Scanner {
	return NewScannerAt(DefaultClassDir, NVIDIAVendorID)
}

// NewScannerAt returns a Scanner rooted at classDir matching vendor.
func NewScannerAt(classDir string, vendor uint64) *Scanner {
	return &Scanner{classDir: classDir, vendor: vendor}
}

// Scan builds the device sets. Per-entry I/O failures skip that entry;
// an unreadable class directory yields empty sets. Both degrade to "no
// devices found", which leaves the system fully visible.
func (s *Scanner) Scan() *Devices {
	d := &Devices{}
	for _, name := range s.listClassDir() {
		if !isDRMNodeName(name) {
			continue
		}
		if s.entryVendor(name) != s.vendor {
			continue
		}
		addBounded(&d.Nodes, name, MaxNodes)
	}
	for _, node := range d.Nodes {
		bdf, ok := s.resolveBusAddr(node)
		if !ok {
			continue
		}
		addBounded(&d.BusAddrs, bdf, MaxBusAddrs)
	}
	return d
}

// listClassDir enumerates the class directory via raw getdents64.
func (s *Scanner) listClassDir() []string {
	fd, err := unix.Openat(unix.AT_FDCWD, s.classDir,
		unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil
	}
	defer unix.Close(fd)

	var names []string
	buf := make([]byte, 8192)
	for {
		n, err := unix.Getdents(fd, buf)
		if err != nil || n <= 0 {
			return names
		}
		walkDirents(buf[:n], func(name string) {
			if name[0] != '.' {
				names = append(names, name)
			}
		})
	}
}

// isDRMNodeName matches the display-card and render-node naming convention.
func isDRMNodeName(name string) bool {
	return strings.HasPrefix(name, "card") || strings.HasPrefix(name, "renderD")
}

// entryVendor reads and parses the entry's PCI vendor attribute.
// Returns 0 (never a valid match) on any failure.
func (s *Scanner) entryVendor(entry string) uint64 {
	raw, ok := readFileRaw(s.classDir + "/" + entry + "/device/vendor")
	if !ok {
		return 0
	}
	v, err := parseHex(raw)
	if err != nil {
		return 0
	}
	return v
}

// resolveBusAddr resolves the node's device symlink and extracts the final
// path component when it looks like a bus:device.function address.
func (s *Scanner) resolveBusAddr(node string) (string, bool) {
	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(unix.AT_FDCWD, s.classDir+"/"+node+"/device", buf)
	if err != nil || n <= 0 {
		return "", false
	}
	base := path.Base(string(buf[:n]))
	if !strings.ContainsRune(base, ':') || !strings.ContainsRune(base, '.') {
		return "", false
	}
	return base, true
}

// readFileRaw reads a small attribute file via raw openat/read.
func readFileRaw(p string) (string, bool) {
	fd, err := unix.Openat(unix.AT_FDCWD, p, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", false
	}
	defer unix.Close(fd)

	buf := make([]byte, 64)
	n, err := unix.Read(fd, buf)
	if err != nil || n <= 0 {
		return "", false
	}
	return strings.TrimSpace(string(buf[:n])), true
}

// parseHex parses a vendor identifier in either 0x-prefixed or bare hex form.
func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 32)
}

// addBounded appends name unless it is a duplicate or the set is full.
func addBounded(set *[]string, name string, max int) {
	if name == "" {
		return
	}
	for _, have := range *set {
		if have == name {
			return
		}
	}
	if len(*set) >= max {
		return
	}
	*set = append(*set, name)
}
