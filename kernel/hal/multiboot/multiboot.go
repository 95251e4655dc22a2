// Package multiboot parses the multiboot2 information block handed to the
// kernel by the boot loader.
package multiboot

import (
	"reflect"
	"strings"
	"unsafe"
)

var (
	infoData  uintptr
	cmdLineKV map[string]string
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader describes the header the precedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// moduleHeader describes the fixed part of a boot module tag. It is followed
// by a NULL-terminated module command line.
type moduleHeader struct {
	start uint32
	end   uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Module describes a file that the boot loader loaded into physical memory
// alongside the kernel image.
type Module struct {
	// Physical address range occupied by the module: [Start, End).
	Start, End uintptr

	// CmdLine holds the command line the module was loaded with.
	CmdLine string
}

// ModuleVisitor defines a visitor function that gets invoked by VisitModules
// for each loaded boot module. The visitor must return true to continue or
// false to abort the scan.
type ModuleVisitor func(*Module) bool

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
	cmdLineKV = nil
}

// VisitMemRegions invokes the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for curPtr < endPtr {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}

		curPtr += uintptr(ptrMapHeader.entrySize)
	}
}

// VisitModules invokes the supplied visitor for each boot module tag. Unlike
// the memory map, the multiboot2 format emits one tag per module.
func VisitModules(visitor ModuleVisitor) {
	var mod Module

	visitTags(tagModules, func(curPtr uintptr, size uint32) bool {
		hdr := (*moduleHeader)(unsafe.Pointer(curPtr))
		mod.Start = uintptr(hdr.start)
		mod.End = uintptr(hdr.end)
		mod.CmdLine = cString(curPtr+8, size-8)
		return visitor(&mod)
	})
}

// GetBootCmdLine returns the command line key-value pairs passed to the
// kernel. Flags without a value (e.g. "nosmp") map to themselves. The
// result is parsed once and cached until the next SetInfoPtr call.
func GetBootCmdLine() map[string]string {
	if cmdLineKV != nil {
		return cmdLineKV
	}

	cmdLineKV = make(map[string]string)

	curPtr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return cmdLineKV
	}

	for _, pair := range strings.Fields(cString(curPtr, size)) {
		kv := strings.SplitN(pair, "=", 2)
		switch len(kv) {
		case 2: // foo=bar
			cmdLineKV[kv[0]] = kv[1]
		case 1: // nofoo
			cmdLineKV[kv[0]] = kv[0]
		}
	}

	return cmdLineKV
}

// cString returns the NULL-terminated string stored in the maxLen bytes that
// begin at ptr. The returned string aliases the multiboot data instead of
// copying it, so it can be used before the Go allocator is initialized.
func cString(ptr uintptr, maxLen uint32) string {
	raw := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(maxLen),
		Cap:  int(maxLen),
		Data: ptr,
	}))

	strLen := len(raw)
	for i, b := range raw {
		if b == 0 {
			strLen = i
			break
		}
	}

	return *(*string)(unsafe.Pointer(&reflect.StringHeader{
		Data: ptr,
		Len:  strLen,
	}))
}

// findTagByType scans the multiboot info data looking for the start of the
// first tag of the specified type. It returns a pointer to the tag contents
// and the content length excluding the tag header. If the tag is not
// present, findTagByType returns (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var tagPtr uintptr
	var tagSize uint32

	visitTags(tagType, func(curPtr uintptr, size uint32) bool {
		tagPtr, tagSize = curPtr, size
		return false
	})

	return tagPtr, tagSize
}

// visitTags invokes fn with the contents pointer and content length of each
// tag with the given type until fn returns false or the end tag is reached.
func visitTags(tagType tagType, fn func(uintptr, uint32) bool) {
	if infoData == 0 {
		return
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			if !fn(curPtr+8, ptrTagHeader.size-8) {
				return
			}
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}
}
