package vmm

// PageTableEntryFlag describes a flag that can be applied to a page table
// or page directory entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching selects write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when the entry maps a large page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry for this page from being flushed
	// when CR3 is reloaded.
	FlagGlobal
)

const (
	// KernelTableFlags are applied to the intermediate tables that back
	// kernel mappings.
	KernelTableFlags = FlagPresent | FlagRW

	// KernelDataFlags are applied to kernel heap and stack pages.
	KernelDataFlags = FlagPresent | FlagRW | FlagGlobal
)

// HasFlags returns true if all of the supplied flags are set in f.
func (f PageTableEntryFlag) HasFlags(flags PageTableEntryFlag) bool {
	return f&flags == flags
}
