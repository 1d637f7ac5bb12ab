package interpose

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"
)

// Dirent is one surviving directory entry. Both the standard and the
// large-file enumeration variants share this 64-bit representation.
type Dirent struct {
	Ino  uint64
	Type uint8
	Name string
}

// Dir is an open directory stream. Next yields the real entries in order,
// minus those the hide decision skips, and reports io.EOF when the real
// sequence is exhausted.
type Dir struct {
	fd  int
	buf []byte
	pos int
	end int
}

// OpenDir opens a directory for filtered enumeration. Opening a hidden
// directory path itself fails with ENOENT like any other denied open.
func OpenDir(path string) (*Dir, error) {
	st := ensureReady()
	if st.DenyPath(path) {
		return nil, unix.ENOENT
	}
	fd, err := unix.Openat(unix.AT_FDCWD, path,
		unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Dir{fd: fd, buf: make([]byte, 8192)}, nil
}

// Next returns the next non-hidden entry. A delegation failure from
// getdents64 propagates verbatim.
func (d *Dir) Next() (Dirent, error) {
	st := ensureReady()
	for {
		if d.pos >= d.end {
			n, err := unix.Getdents(d.fd, d.buf)
			if err != nil {
				return Dirent{}, err
			}
			if n <= 0 {
				return Dirent{}, io.EOF
			}
			d.pos, d.end = 0, n
		}
		ent, ok := d.parseEntry()
		if !ok {
			// Malformed record: discard the rest of this buffer.
			d.pos = d.end
			continue
		}
		if st.DenyDirent(ent.Name) {
			continue
		}
		return ent, nil
	}
}

// Close releases the directory stream.
func (d *Dir) Close() error {
	return unix.Close(d.fd)
}

// parseEntry decodes the getdents64 record at the current position:
// u64 inode, s64 offset, u16 reclen, u8 type, NUL-terminated name.
func (d *Dir) parseEntry() (Dirent, bool) {
	rec := d.buf[d.pos:d.end]
	if len(rec) < direntNameOff {
		return Dirent{}, false
	}
	reclen := int(binary.LittleEndian.Uint16(rec[direntReclenOff:]))
	if reclen < direntNameOff || reclen > len(rec) {
		return Dirent{}, false
	}
	d.pos += reclen

	name := rec[direntNameOff:reclen]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return Dirent{
		Ino:  binary.LittleEndian.Uint64(rec),
		Type: rec[direntTypeOff],
		Name: string(name),
	}, true
}

const (
	direntReclenOff = 16
	direntTypeOff   = 18
	direntNameOff   = 19
)
