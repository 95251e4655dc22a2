// Package kmain contains the boot sequence that brings up memory management,
// interrupt routing and the secondary processors.
package kmain

import (
	"bootcore/device"
	"bootcore/device/acpi"
	"bootcore/device/acpi/table"
	"bootcore/device/irqchip"
	_ "bootcore/device/timer" // registers the PIT driver
	"bootcore/kernel"
	"bootcore/kernel/cpu"
	"bootcore/kernel/gate"
	"bootcore/kernel/goruntime"
	"bootcore/kernel/hal/multiboot"
	"bootcore/kernel/heap"
	"bootcore/kernel/irq"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/mm/pmm"
	"bootcore/kernel/mm/vmm"
	"bootcore/kernel/smp"
	"bootcore/kernel/sync"
	"bytes"
	"io"
	"sort"
)

// Device registers are mapped uncached.
const mmioFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagDoNotCache

var (
	// The following are mocked by tests.
	panicFn                   = kfmt.Panic
	installInterruptMaskingFn = func() {
		sync.InstallInterruptMasking(cpu.SaveFlagsAndDisableInterrupts, cpu.RestoreFlags)
	}
	hasAPICFn      = cpu.HasAPIC
	driverListFn   = device.DriverList
	newLocalAPICFn = func(base uintptr) localAPIC {
		return irqchip.NewLocalAPIC(base)
	}
	newIOAPICFn = func(info acpi.IOAPICInfo) ioapicController {
		return irqchip.NewIOAPIC(info.ID, info.Address, info.GSIBase)
	}
	goruntimeInitFn   = goruntime.Init
	gateInitFn        = gate.Init
	handleInterruptFn = gate.HandleInterrupt

	errNoMapper = &kernel.Error{Module: "kmain", Message: "no address space mapper supplied"}

	strBuf bytes.Buffer
)

// The memory subsystems and the kernel state are set up before the Go
// allocator is available so they live in static storage.
var (
	kernelState    Kernel
	frameAllocator pmm.BitmapAllocator
	kernelHeap     heap.Heap
	runtimeRegions vmm.RegionReserver
	stackRegions   vmm.RegionReserver
)

// localAPIC is implemented by irqchip.LocalAPIC.
type localAPIC interface {
	device.Driver
	smp.LocalAPIC
	ID() uint8
	EOI()
}

// madtProvider is implemented by drivers that expose the ACPI MADT.
type madtProvider interface {
	MADT() *table.MADT
}

// legacyPIC is implemented by the 8259 PIC driver.
type legacyPIC interface {
	irq.LineMasker
	MaskAll()
	EOI(irqLine uint8)
}

// translator is implemented by mappers that can walk the active page
// tables, such as vmm.RecursiveMapper.
type translator interface {
	Translate(virtAddr uintptr) (uintptr, *kernel.Error)
}

// Environment describes the collaborators provided by the early boot code.
type Environment struct {
	// Mapper installs page mappings in the active address space.
	Mapper vmm.Mapper

	// LowMem accesses the low memory handoff area. Defaults to
	// smp.IdentityLowMemory.
	LowMem smp.LowMemory

	// BootFS locates boot modules. Defaults to multiboot.ModuleFS.
	BootFS smp.BootFS

	// Console receives log output once the boot sequence starts.
	Console io.Writer

	// Scheduler and Syscalls receive timer ticks and system calls. Until
	// they are supplied, ticks are dropped, system calls resume the caller
	// and device IRQs are left pending.
	Scheduler irq.Scheduler
	Syscalls  irq.SyscallHandler

	// PageDirectory is the physical address of the page directory loaded
	// by secondary processors.
	PageDirectory uintptr

	// APEntryPoint is where secondary processors enter the kernel.
	APEntryPoint uintptr
}

// Kernel holds the subsystems assembled by Kmain.
type Kernel struct {
	Config Config

	Frames *pmm.BitmapAllocator
	Heap   *heap.Heap

	IRQ        *irq.Registry
	Dispatcher *irq.Dispatcher

	// Masker suppresses IRQ lines while handlers are attached. It is the
	// I/O APIC router when I/O APICs are present and the PIC otherwise.
	Masker irq.LineMasker

	Drivers    []device.Driver
	LAPIC      smp.LocalAPIC
	Processors smp.ProcessorList

	// Started is the number of secondary processors sent the startup
	// sequence.
	Started int

	madt  *table.MADT
	pic   legacyPIC
	timer smp.Sleeper
	lapic localAPIC

	// apicRouting is set once IRQs are delivered by the I/O APICs and must
	// be acknowledged at the local APIC.
	apicRouting bool

	// current is the thread interrupted by the last trap.
	current irq.Thread
}

// Kmain runs the boot sequence. multibootInfoPtr is the address of the
// multiboot information block and kernelEnd the physical address just past
// the kernel image. Failures in the memory setup are fatal.
//
// Nothing may allocate until initMemory has brought up the Go runtime.
func Kmain(multibootInfoPtr, kernelEnd uintptr, env *Environment) *Kernel {
	multiboot.SetInfoPtr(multibootInfoPtr)
	installInterruptMaskingFn()

	kernelState = Kernel{Config: DefaultConfig()}
	k := &kernelState

	if err := k.initMemory(kernelEnd, env); err != nil {
		panicFn(err)
		return nil
	}

	if env.Console != nil {
		kfmt.SetOutputSink(env.Console)
	}
	if env.LowMem == nil {
		env.LowMem = smp.IdentityLowMemory{}
	}
	if env.BootFS == nil {
		env.BootFS = multiboot.ModuleFS{}
	}
	if env.Scheduler == nil {
		env.Scheduler = idleScheduler{}
	}
	if env.Syscalls == nil {
		env.Syscalls = resumeCaller{}
	}

	k.applyCmdLine()
	k.detectDrivers(env)

	if err := k.initInterrupts(env); err != nil {
		panicFn(err)
		return nil
	}

	k.bringUpProcessors(env)
	return k
}

// applyCmdLine replaces the default configuration with the one given on the
// kernel command line. The heap is already running so only its limit can
// change.
func (k *Kernel) applyCmdLine() {
	cfg := ParseConfig(multiboot.GetBootCmdLine())

	if err := k.Heap.SetLimit(cfg.Heap.Limit); err != nil {
		kfmt.Printf("[kmain] keeping heap limit 0x%x: %s\n", k.Config.Heap.Limit, err.Message)
		cfg.Heap.Limit = k.Config.Heap.Limit
	}
	k.Config = cfg
}

// AttachIRQ registers a handler thread for irqLine. The line is masked at the
// active interrupt controller while the entry is updated and unmasked after.
func (k *Kernel) AttachIRQ(irqLine uint8, owner irq.ThreadID, entry, callback uintptr) {
	if k.Masker == nil {
		k.IRQ.SetHandler(irqLine, owner, entry, callback)
		return
	}
	k.IRQ.Attach(k.Masker, irqLine, owner, entry, callback)
}

// DetachIRQ removes the handler for irqLine and returns it. The line stays
// masked at the active interrupt controller; interrupts that arrive while
// it is masked are lost.
func (k *Kernel) DetachIRQ(irqLine uint8) (irq.Handler, bool) {
	if k.Masker == nil {
		return k.IRQ.ClearHandler(irqLine)
	}
	return k.IRQ.Detach(k.Masker, irqLine)
}

// frameSource draws frames through the hook registered by pmm.Init.
type frameSource struct{}

func (frameSource) AllocFrame() (mm.Frame, *kernel.Error) { return mm.AllocFrame() }

func (k *Kernel) initMemory(kernelEnd uintptr, env *Environment) *kernel.Error {
	if env.Mapper == nil {
		return errNoMapper
	}

	frameAllocator = pmm.BitmapAllocator{}
	k.Frames = &frameAllocator
	pmm.ReleaseAvailableMemory(k.Frames, kernelEnd)
	pmm.Init(k.Frames)

	cfg := k.Config.Heap
	if _, err := vmm.MapRegion(env.Mapper, frameSource{}, cfg.Start, cfg.InitialSize>>mm.PageShift, vmm.KernelDataFlags); err != nil {
		return err
	}

	k.Heap = &kernelHeap
	k.Heap.Setup(cfg, frameSource{}, env.Mapper)
	if err := k.Heap.Init(); err != nil {
		return err
	}
	heap.Install(k.Heap)

	runtimeRegions.Init(k.Config.RuntimeRegionBase, k.Config.RuntimeRegionTop)
	if err := goruntimeInitFn(env.Mapper, frameSource{}, &runtimeRegions); err != nil {
		return err
	}

	start, end := k.Heap.Bounds()
	kfmt.Printf("[kmain] heap at 0x%x-0x%x (limit 0x%x)\n", start, end, cfg.Limit)
	if tr, ok := env.Mapper.(translator); ok {
		if physAddr, err := tr.Translate(start); err == nil {
			kfmt.Printf("[kmain] heap starts at physical address 0x%x\n", physAddr)
		}
	}
	return nil
}

// detectDrivers detects the registered drivers in detection order and
// initializes the ones whose hardware is present.
func (k *Kernel) detectDrivers(env *Environment) {
	acpi.UseMapper(env.Mapper)

	drivers := driverListFn()
	sort.Stable(drivers)

	for _, info := range drivers {
		drv := info.Detect()
		if drv == nil || !k.initDriver(drv) {
			continue
		}
		k.onDriverInit(drv)
	}
}

// initDriver initializes drv with a writer that tags its output with the
// driver name and version.
func (k *Kernel) initDriver(drv device.Driver) bool {
	strBuf.Reset()
	major, minor, patch := drv.DriverVersion()
	kfmt.Fprintf(&strBuf, "[kmain] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
	w := kfmt.PrefixWriter{Sink: logSink{}, Prefix: strBuf.Bytes()}

	if err := drv.DriverInit(&w); err != nil {
		kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
		return false
	}

	kfmt.Fprintf(&w, "initialized\n")
	k.Drivers = append(k.Drivers, drv)
	return true
}

func (k *Kernel) onDriverInit(drv device.Driver) {
	switch d := drv.(type) {
	case madtProvider:
		k.madt = d.MADT()
	case legacyPIC:
		k.pic = d
		k.Masker = d
	case smp.Sleeper:
		k.timer = d
	}
}

// initInterrupts builds the IRQ registry and dispatcher and, when the
// firmware describes local and I/O APICs, switches IRQ delivery from the
// PIC to the I/O APICs.
func (k *Kernel) initInterrupts(env *Environment) *kernel.Error {
	k.IRQ = irq.NewRegistry()
	k.Dispatcher = irq.NewDispatcher(k.IRQ, env.Scheduler, env.Syscalls)

	gateInitFn()
	for _, vector := range trapVectors() {
		if err := handleInterruptFn(vector, 0, k.handleTrap); err != nil {
			return err
		}
	}

	if k.madt == nil || !hasAPICFn() {
		kfmt.Printf("[kmain] no local APIC; using legacy PIC\n")
		return nil
	}

	lapicAddr := uintptr(k.madt.LocalControllerAddress)
	if lapicAddr == 0 {
		lapicAddr = irqchip.DefaultLAPICAddress
	}
	if err := vmm.IdentityMapRegion(env.Mapper, lapicAddr, mm.PageSize, mmioFlags); err != nil {
		return err
	}

	lapic := newLocalAPICFn(lapicAddr)
	if !k.initDriver(lapic) {
		return nil
	}
	k.lapic, k.LAPIC = lapic, lapic

	bootAPICID := lapic.ID()
	k.Processors = acpi.DiscoverProcessors(k.madt, bootAPICID)
	kfmt.Printf("[kmain] %d processors listed by the firmware\n", len(k.Processors))
	if bsp, ok := k.Processors.BSP(); ok {
		kfmt.Printf("[kmain] boot processor has APIC id %d\n", bsp.APICID)
	}

	router := &ioapicRouter{overrides: acpi.InterruptOverrides(k.madt)}
	for _, info := range acpi.DiscoverIOAPICs(k.madt) {
		if err := vmm.IdentityMapRegion(env.Mapper, info.Address, mm.PageSize, mmioFlags); err != nil {
			return err
		}

		ctrl := newIOAPICFn(info)
		if k.initDriver(ctrl) {
			router.ctrls = append(router.ctrls, ctrl)
		}
	}

	if len(router.ctrls) == 0 {
		return nil
	}

	if k.pic != nil {
		k.pic.MaskAll()
	}
	for line := uint8(0); line < isaLines; line++ {
		if router.shadowed(line) {
			continue
		}
		if err := router.route(line, bootAPICID); err != nil {
			kfmt.Printf("[kmain] IRQ %d: %s\n", line, err.Message)
		}
	}
	k.Masker = router
	k.apicRouting = true
	return nil
}

// trapVectors returns the vectors serviced by the dispatcher.
func trapVectors() []gate.InterruptNumber {
	vectors := make([]gate.InterruptNumber, 0, isaLines+2)
	for line := uint8(0); line < isaLines; line++ {
		vectors = append(vectors, gate.InterruptNumber(irq.IRQBase+line))
	}
	return append(vectors, irq.SyscallVector, irq.SpuriousVector)
}

// handleTrap is invoked by the interrupt gates for every vector returned by
// trapVectors. Timer and device interrupts are acknowledged at the
// controller that delivered them once the dispatcher has run.
func (k *Kernel) handleTrap(regs *gate.Registers) {
	next, kind := k.Dispatcher.Dispatch(regs, k.current)
	k.current = next

	switch kind {
	case irq.TrapTimer, irq.TrapDeviceIRQ:
		k.eoi(uint8(regs.Info - irq.IRQBase))
	case irq.TrapUnhandled:
		kfmt.Printf("[kmain] %d unhandled traps so far\n", k.Dispatcher.Stats().Count(irq.TrapUnhandled))
	}
}

// eoi signals the end of the interrupt on irqLine to the active controller.
func (k *Kernel) eoi(irqLine uint8) {
	switch {
	case k.apicRouting:
		k.lapic.EOI()
	case k.pic != nil:
		k.pic.EOI(irqLine)
	}
}

// bringUpProcessors starts the secondary processors unless SMP is disabled
// or there is nothing to start. Running with fewer processors than listed
// is not fatal.
func (k *Kernel) bringUpProcessors(env *Environment) {
	procs := k.Processors
	if len(procs) > k.Config.MaxProcessors {
		procs = procs[:k.Config.MaxProcessors]
	}

	switch {
	case !k.Config.SMP:
		kfmt.Printf("[kmain] SMP disabled\n")
		return
	case k.lapic == nil || k.timer == nil || procs.SecondaryCount() == 0:
		kfmt.Printf("[kmain] no secondary processors to start\n")
		return
	}

	// the handoff words and the trampoline live in low memory
	for _, addr := range []uintptr{smp.PageDirSlot, smp.TrampolineAddr} {
		if err := vmm.IdentityMapRegion(env.Mapper, mm.PageAlignDown(addr), mm.PageSize, vmm.KernelTableFlags); err != nil {
			kfmt.Printf("[kmain] unable to map low memory: %s\n", err.Message)
			return
		}
	}

	stackRegions.Init(k.Config.StackRegionBase, k.Config.StackRegionTop)
	started, err := smp.BringUp(smp.Env{
		APIC:           k.lapic,
		Timer:          k.timer,
		FS:             env.BootFS,
		Mem:            env.LowMem,
		Frames:         frameSource{},
		Mapper:         env.Mapper,
		Regions:        &stackRegions,
		PageDirectory:  env.PageDirectory,
		EntryPoint:     env.APEntryPoint,
		TrampolinePath: k.Config.TrampolinePath,
	}, procs)
	k.Started = started

	if err != nil {
		kfmt.Printf("[kmain] processor bring-up incomplete: %s\n", err.Message)
	}
	kfmt.Printf("[kmain] sent startup sequence to %d processors\n", started)
	kfmt.Printf("[kmain] %d of %d processors reported in\n", smp.StartedCount(env.LowMem), started)
	kfmt.Printf("[kmain] 0x%x bytes of stack space left\n", stackRegions.Remaining())
}

// idleScheduler is used until a scheduler is supplied. It knows no threads
// so device IRQs are left pending for PollIRQ.
type idleScheduler struct{}

func (idleScheduler) AdvanceClock()                                {}
func (idleScheduler) Schedule() irq.Thread                         { return nil }
func (idleScheduler) LookupThread(irq.ThreadID) (irq.Thread, bool) { return nil, false }

// resumeCaller answers every system call by resuming the caller.
type resumeCaller struct{}

func (resumeCaller) Handle(cur irq.Thread) irq.Thread { return cur }

// logSink forwards writes to the active kfmt output sink.
type logSink struct{}

func (logSink) Write(p []byte) (int, error) {
	kfmt.Fprintf(kfmt.GetOutputSink(), "%s", p)
	return len(p), nil
}
