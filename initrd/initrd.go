// Package initrd implements the CPIO "newc" reader for the initial
// ramdisk image (spec.md §6, §9): a lazy iterator over (header, body)
// pairs, consumed on demand by vfs's initrdfs driver and by elf.Load
// when the init binary is opened straight out of the image. The teacher
// carries no CPIO support at all (biscuit boots from an on-disk ufs
// filesystem, not an initrd), so this package is grounded directly on
// spec.md §6's field layout and §9's "inline arbitrary-length CPIO walk
// is a lazy iterator" design note.
package initrd

import (
	"encoding/hex"
	"fmt"

	"grinch/defs"
)

// Magic is the CPIO "newc" format's fixed 6-byte magic string.
const Magic = "070701"

// headerLen is the fixed-size ASCII header: 6-byte magic plus thirteen
// 8-char hex fields (spec.md §6).
const headerLen = 6 + 13*8

// trailerName is the end-of-archive marker entry name (spec.md §9 open
// question #4: a real file named exactly this ends iteration too, and
// that quirk is kept, not fixed).
const trailerName = "TRAILER!!!"

// Header is one CPIO newc entry's decoded fixed fields (spec.md §6).
type Header struct {
	Ino       uint32
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Nlink     uint32
	Mtime     uint32
	Filesize  uint32
	DevMajor  uint32
	DevMinor  uint32
	RdevMajor uint32
	RdevMinor uint32
	Name      string
}

// Entry pairs a decoded header with its body bytes, sliced directly out
// of the backing image (no copy).
type Entry struct {
	Header Header
	Body   []byte
}

// Iterator walks a CPIO "newc" image lazily, one entry at a time,
// without parsing entries the caller never asks for.
type Iterator struct {
	data []byte
	off  int
	done bool
}

// NewIterator wraps the raw initrd image bytes.
func NewIterator(image []byte) *Iterator {
	return &Iterator{data: image}
}

// Next returns the next entry, or ok=false once the TRAILER!!! marker
// (or the end of the buffer) is reached.
func (it *Iterator) Next() (Entry, bool, defs.Err_t) {
	if it.done {
		return Entry{}, false, 0
	}
	if it.off+headerLen > len(it.data) {
		it.done = true
		return Entry{}, false, 0
	}
	raw := it.data[it.off : it.off+headerLen]
	if string(raw[:6]) != Magic {
		return Entry{}, false, -defs.EINVAL
	}

	fields := make([]uint32, 13)
	for i := 0; i < 13; i++ {
		v, err := hexField(raw[6+i*8 : 6+i*8+8])
		if err != 0 {
			return Entry{}, false, err
		}
		fields[i] = v
	}
	namesize := int(fields[11])

	pos := it.off + headerLen
	if pos+namesize > len(it.data) {
		return Entry{}, false, -defs.EINVAL
	}
	name := string(it.data[pos : pos+namesize-1]) // drop the trailing NUL
	pos += namesize
	pos = roundup4(pos)

	filesize := int(fields[6])
	if pos+filesize > len(it.data) {
		return Entry{}, false, -defs.EINVAL
	}
	body := it.data[pos : pos+filesize]
	pos += filesize
	pos = roundup4(pos)
	it.off = pos

	h := Header{
		Ino: fields[0], Mode: fields[1], Uid: fields[2], Gid: fields[3],
		Nlink: fields[4], Mtime: fields[5], Filesize: fields[6],
		DevMajor: fields[7], DevMinor: fields[8],
		RdevMajor: fields[9], RdevMinor: fields[10],
		Name: name,
	}

	// spec.md §9 open question #4: "emits TRAILER only when namesize ==
	// sizeof(TRAILER!!!)" — this checks the decoded name string directly,
	// which is the same observable behavior without needing namesize as
	// a separate comparison, and is kept even though it means a real
	// file named exactly TRAILER!!! ends the scan early.
	if name == trailerName {
		it.done = true
		return Entry{}, false, 0
	}

	return Entry{Header: h, Body: body}, true, 0
}

func hexField(b []byte) (uint32, defs.Err_t) {
	var buf [4]byte
	n, err := hex.Decode(buf[:], b)
	if err != nil || n != 4 {
		return 0, -defs.EINVAL
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), 0
}

func roundup4(n int) int {
	return (n + 3) &^ 3
}

// Lookup scans image for a path (with any leading '/' stripped, per
// spec.md §6 "Paths are looked up verbatim with any leading / stripped"),
// returning its entry if found.
func Lookup(image []byte, path string) (Entry, bool, defs.Err_t) {
	want := path
	for len(want) > 0 && want[0] == '/' {
		want = want[1:]
	}
	it := NewIterator(image)
	for {
		e, ok, err := it.Next()
		if err != 0 {
			return Entry{}, false, err
		}
		if !ok {
			return Entry{}, false, 0
		}
		if e.Header.Name == want {
			return e, true, 0
		}
	}
}

// List returns every entry's decoded header, for directory population
// (vfs's initrdfs driver walks this once at mount time to build its
// in-memory tree).
func List(image []byte) ([]Entry, defs.Err_t) {
	var out []Entry
	it := NewIterator(image)
	for {
		e, ok, err := it.Next()
		if err != 0 {
			return nil, err
		}
		if !ok {
			return out, 0
		}
		out = append(out, e)
	}
}

// Encode serializes headers (with their bodies) back into a newc image,
// the inverse of List/NewIterator, used only by initrd_test.go's
// round-trip law (spec.md §8: "CPIO parse(serialize(headers)) =
// headers").
func Encode(entries []Entry) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, encodeOne(e)...)
	}
	out = append(out, encodeOne(Entry{Header: Header{Name: trailerName, Nlink: 1}})...)
	return out
}

func encodeOne(e Entry) []byte {
	name := e.Header.Name + "\x00"
	h := e.Header
	h.Filesize = uint32(len(e.Body))
	fields := []uint32{
		h.Ino, h.Mode, h.Uid, h.Gid, h.Nlink, h.Mtime, h.Filesize,
		h.DevMajor, h.DevMinor, h.RdevMajor, h.RdevMinor, uint32(len(name)), 0,
	}
	buf := []byte(Magic)
	for _, f := range fields {
		buf = append(buf, []byte(fmt.Sprintf("%08X", f))...)
	}
	buf = append(buf, []byte(name)...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, e.Body...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
