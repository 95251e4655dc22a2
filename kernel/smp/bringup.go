package smp

import (
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/mm/vmm"
)

// Local APIC interrupt command register offsets.
const (
	RegICRLow  = uint32(0x300)
	RegICRHigh = uint32(0x310)
)

const (
	icrDeliveryInit    = uint32(5 << 8)
	icrDeliveryStartup = uint32(6 << 8)
	icrLevelAssert     = uint32(1 << 14)
	icrDestShift       = 24

	// sipiVector is the page number of TrampolineAddr.
	sipiVector = uint32(TrampolineAddr >> mm.PageShift)

	initDelayMicros = 10000
	sipiDelayMicros = 200

	// StackSize is the size of the stack provisioned for each processor.
	StackSize = mm.PageSize

	// DefaultTrampolinePath is the boot module that holds the trampoline.
	DefaultTrampolinePath = "/boot/trampoline.bin"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNoTrampoline      = &kernel.Error{Module: "smp", Message: "trampoline code not found"}
	errTrampolineTooBig  = &kernel.Error{Module: "smp", Message: "trampoline code does not fit in low memory"}
	errStacksUnavailable = &kernel.Error{Module: "smp", Message: "could not provision stacks for all processors"}
)

// LocalAPIC is the boot processor's local interrupt controller.
type LocalAPIC interface {
	Read(reg uint32) uint32
	Write(reg, val uint32)

	// WaitForSendComplete spins until the last IPI has been accepted.
	WaitForSendComplete()
}

// Sleeper busy-waits for a number of microseconds.
type Sleeper interface {
	PrepareSleep(micros uint32)
	PerformSleep()
}

// BootFS locates files loaded by the boot loader.
type BootFS interface {
	FindByPath(path string) ([]byte, bool)
}

// RegionReserver hands out kernel virtual ranges.
type RegionReserver interface {
	Reserve(size uintptr) (uintptr, *kernel.Error)
}

// Env bundles the collaborators used by BringUp.
type Env struct {
	APIC    LocalAPIC
	Timer   Sleeper
	FS      BootFS
	Mem     LowMemory
	Frames  vmm.FrameSource
	Mapper  vmm.Mapper
	Regions RegionReserver

	// PageDirectory is the physical address of the page directory that
	// secondary processors should load.
	PageDirectory uintptr

	// EntryPoint is the kernel entry point for secondary processors.
	EntryPoint uintptr

	// TrampolinePath overrides DefaultTrampolinePath when not empty.
	TrampolinePath string
}

// BringUp provisions a stack for every processor in procs, installs the
// trampoline and wakes every processor that is not the boot processor. It
// returns the number of processors that were sent the startup sequence.
//
// If a stack cannot be provisioned for the processor with ordinal k, only
// processors with a lower ordinal are started and errStacksUnavailable is
// returned along with the count. A missing trampoline is fatal.
func BringUp(env Env, procs ProcessorList) (int, *kernel.Error) {
	if len(procs) > MaxProcessors {
		kfmt.Printf("[smp] %d processors detected; only the first %d will be used\n", len(procs), MaxProcessors)
		procs = procs[:MaxProcessors]
	}

	env.Mem.WriteWord(PageDirSlot, uint32(env.PageDirectory))
	env.Mem.WriteWord(EntryPointSlot, uint32(env.EntryPoint))
	env.Mem.WriteWord(StartupCounterSlot, 0)

	provisioned, stackErr := provisionStacks(env, procs)
	if stackErr != nil {
		kfmt.Printf("[smp] stack allocation for processor %d failed (%s); %d processors provisioned\n", provisioned, stackErr.Message, provisioned)
	}

	path := env.TrampolinePath
	if path == "" {
		path = DefaultTrampolinePath
	}

	code, found := env.FS.FindByPath(path)
	switch {
	case !found:
		kfmt.Printf("[smp] missing %s\n", path)
		panicFn(errNoTrampoline)
		return 0, errNoTrampoline
	case len(code) > MaxTrampolineSize:
		panicFn(errTrampolineTooBig)
		return 0, errTrampolineTooBig
	}
	env.Mem.Zero(TrampolineAddr, MaxTrampolineSize)
	env.Mem.Copy(TrampolineAddr, code)

	var started int
	for _, proc := range procs[:provisioned] {
		if proc.BSP {
			continue
		}

		kfmt.Printf("[smp] starting processor with APIC id %d\n", proc.APICID)
		startProcessor(env, proc.APICID)
		started++
	}

	if stackErr != nil {
		return started, errStacksUnavailable
	}
	return started, nil
}

// provisionStacks maps a stack for each processor and records its top in the
// handoff area. It returns the number of processors that received a stack.
func provisionStacks(env Env, procs ProcessorList) (int, *kernel.Error) {
	for ordinal := range procs {
		stackBase, err := env.Regions.Reserve(StackSize)
		if err != nil {
			return ordinal, err
		}

		if _, err = vmm.MapRegion(env.Mapper, env.Frames, stackBase, StackSize>>mm.PageShift, vmm.KernelDataFlags); err != nil {
			return ordinal, err
		}

		env.Mem.WriteWord(StackSlot(ordinal), uint32(stackBase+StackSize))
	}

	return len(procs), nil
}

// startProcessor sends the INIT-SIPI-SIPI sequence to the processor with the
// given local APIC id.
func startProcessor(env Env, apicID uint8) {
	sendIPI(env.APIC, apicID, icrDeliveryInit|icrLevelAssert)
	sleep(env.Timer, initDelayMicros)

	for i := 0; i < 2; i++ {
		sendIPI(env.APIC, apicID, icrDeliveryStartup|sipiVector)
		sleep(env.Timer, sipiDelayMicros)
	}
}

func sendIPI(apic LocalAPIC, apicID uint8, cmd uint32) {
	high := apic.Read(RegICRHigh)&^(0xff<<icrDestShift) | uint32(apicID)<<icrDestShift
	apic.Write(RegICRHigh, high)
	apic.Write(RegICRLow, cmd)
	apic.WaitForSendComplete()
}

func sleep(timer Sleeper, micros uint32) {
	timer.PrepareSleep(micros)
	timer.PerformSleep()
}
