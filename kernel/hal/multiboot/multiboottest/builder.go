// Package multiboottest assembles synthetic multiboot2 information blocks
// for tests that exercise code walking the boot loader data.
package multiboottest

import (
	"encoding/binary"
	"unsafe"
)

const (
	tagCmdLine   = 1
	tagModule    = 3
	tagMemoryMap = 6

	mmapEntrySize = 24
)

// Region describes a memory map entry to be emitted by a Builder.
type Region struct {
	Base, Length uint64
	Type         uint32
}

// Builder accumulates multiboot tags. The zero value is ready to use.
type Builder struct {
	tags [][]byte
}

// CmdLine appends a boot command line tag.
func (b *Builder) CmdLine(cmdLine string) *Builder {
	payload := append([]byte(cmdLine), 0)
	b.tags = append(b.tags, tag(tagCmdLine, payload))
	return b
}

// MemoryMap appends a memory map tag containing the supplied regions.
func (b *Builder) MemoryMap(regions ...Region) *Builder {
	payload := make([]byte, 8+len(regions)*mmapEntrySize)
	binary.LittleEndian.PutUint32(payload[0:], mmapEntrySize)
	for i, r := range regions {
		entry := payload[8+i*mmapEntrySize:]
		binary.LittleEndian.PutUint64(entry[0:], r.Base)
		binary.LittleEndian.PutUint64(entry[8:], r.Length)
		binary.LittleEndian.PutUint32(entry[16:], r.Type)
	}
	b.tags = append(b.tags, tag(tagMemoryMap, payload))
	return b
}

// Module appends a boot module tag spanning [start, end).
func (b *Builder) Module(start, end uint32, cmdLine string) *Builder {
	payload := make([]byte, 8, 8+len(cmdLine)+1)
	binary.LittleEndian.PutUint32(payload[0:], start)
	binary.LittleEndian.PutUint32(payload[4:], end)
	payload = append(append(payload, cmdLine...), 0)
	b.tags = append(b.tags, tag(tagModule, payload))
	return b
}

// Build serializes the tags followed by the end tag. The returned buffer is
// 8-byte aligned; callers must keep it reachable while its address is in use.
func (b *Builder) Build() []byte {
	size := 8
	for _, t := range b.tags {
		size += align8(len(t))
	}
	size += 8

	backing := make([]uint64, size/8)
	out := (*[1 << 20]byte)(unsafe.Pointer(&backing[0]))[:size:size]

	binary.LittleEndian.PutUint32(out[0:], uint32(size))
	offset := 8
	for _, t := range b.tags {
		copy(out[offset:], t)
		offset += align8(len(t))
	}

	// The end tag (type 0, size 8) is already zeroed.
	out[offset+4] = 8
	return out
}

// Ptr returns the address of a buffer produced by Build.
func Ptr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func tag(typ uint32, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(out[0:], typ)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(out)))
	copy(out[8:], payload)
	return out
}

func align8(n int) int { return (n + 7) &^ 7 }
