package kmain

import (
	"bootcore/kernel/heap"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/smp"
	"strconv"
)

// Default kernel virtual address space layout.
const (
	DefaultHeapStart       = uintptr(0xffff900000000000)
	DefaultHeapInitialSize = 16 * mm.PageSize
	DefaultHeapGrowthSize  = 16 * mm.PageSize
	DefaultHeapMaxSize     = uintptr(64 << 20)

	// Stack tops are handed to the trampoline in 32-bit slots so the
	// stack region must sit below 4 GiB.
	DefaultStackRegionBase = uintptr(0xd0000000)
	DefaultStackRegionSize = smp.MaxProcessors * smp.StackSize

	// The Go runtime reserves its arenas from a dedicated range.
	DefaultRuntimeRegionBase = uintptr(0xffffa00000000000)
	DefaultRuntimeRegionSize = uintptr(512 << 30)
)

// Config holds the boot-time settings resolved from build defaults and the
// kernel command line.
type Config struct {
	Heap heap.Config

	// Secondary processor stacks are carved out of
	// [StackRegionBase, StackRegionTop).
	StackRegionBase uintptr
	StackRegionTop  uintptr

	// Go runtime arenas are reserved from
	// [RuntimeRegionBase, RuntimeRegionTop).
	RuntimeRegionBase uintptr
	RuntimeRegionTop  uintptr

	TrampolinePath string

	// SMP is cleared by the "nosmp" flag.
	SMP bool

	// MaxProcessors caps the number of processors handed to bring-up,
	// including the boot processor.
	MaxProcessors int
}

// DefaultConfig returns the configuration used when the command line does
// not override anything.
func DefaultConfig() Config {
	return Config{
		Heap: heap.Config{
			Start:       DefaultHeapStart,
			InitialSize: DefaultHeapInitialSize,
			GrowthSize:  DefaultHeapGrowthSize,
			Limit:       DefaultHeapStart + DefaultHeapMaxSize,
		},
		StackRegionBase:   DefaultStackRegionBase,
		StackRegionTop:    DefaultStackRegionBase + DefaultStackRegionSize,
		RuntimeRegionBase: DefaultRuntimeRegionBase,
		RuntimeRegionTop:  DefaultRuntimeRegionBase + DefaultRuntimeRegionSize,
		TrampolinePath:    smp.DefaultTrampolinePath,
		SMP:               true,
		MaxProcessors:     smp.MaxProcessors,
	}
}

// ParseConfig applies the recognized command line options to the default
// configuration:
//
//	nosmp             do not start secondary processors
//	heaplimit=<n>     maximum heap size in bytes (decimal or 0x-prefixed hex)
//	trampoline=<path> boot module holding the bring-up trampoline
//	maxcpus=<n>       maximum number of processors to use
//
// Malformed values are reported and ignored.
func ParseConfig(cmdLine map[string]string) Config {
	cfg := DefaultConfig()

	if _, ok := cmdLine["nosmp"]; ok {
		cfg.SMP = false
	}

	if v, ok := cmdLine["heaplimit"]; ok {
		size, err := strconv.ParseUint(v, 0, 64)
		if err != nil || uintptr(size) < cfg.Heap.InitialSize || uintptr(size) > ^uintptr(0)-cfg.Heap.Start {
			kfmt.Printf("[kmain] ignoring invalid heaplimit value: %s\n", v)
		} else {
			cfg.Heap.Limit = cfg.Heap.Start + uintptr(size)
		}
	}

	if v, ok := cmdLine["trampoline"]; ok && v != "" {
		cfg.TrampolinePath = v
	}

	if v, ok := cmdLine["maxcpus"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > smp.MaxProcessors {
			kfmt.Printf("[kmain] ignoring invalid maxcpus value: %s\n", v)
		} else {
			cfg.MaxProcessors = n
		}
	}

	return cfg
}
