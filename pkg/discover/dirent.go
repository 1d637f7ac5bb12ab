package discover

import "encoding/binary"

// getdents64 record layout: u64 inode, s64 offset, u16 reclen, u8 type,
// then the NUL-terminated name.
const (
	direntReclenOff = 16
	direntNameOff   = 19
)

// walkDirents visits every entry name in a raw getdents64 buffer.
// Malformed records terminate the walk rather than panic.
func walkDirents(buf []byte, visit func(name string)) {
	for len(buf) >= direntNameOff {
		reclen := int(binary.LittleEndian.Uint16(buf[direntReclenOff:]))
		if reclen < direntNameOff || reclen > len(buf) {
			return
		}
		name := buf[direntNameOff:reclen]
		if i := indexZero(name); i >= 0 {
			name = name[:i]
		}
		if len(name) > 0 {
			visit(string(name))
		}
		buf = buf[reclen:]
	}
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
