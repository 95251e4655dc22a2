package gate

import (
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"unsafe"
)

const (
	numVectors = 256

	// kernelCodeSelector is the GDT selector of the 64-bit kernel code
	// segment set up by the rt0 code.
	kernelCodeSelector = 0x08

	// Gate type attributes: present 64-bit interrupt gates reachable from
	// ring 0 only or, for the system call vector, from ring 3 too.
	gateKernel = 0x8e
	gateUser   = 0xee

	// SyscallVector is the only gate that user code may invoke with INT.
	SyscallVector = InterruptNumber(0x80)
)

// idtEntry is a 64-bit interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

func (e *idtEntry) set(entryAddr uintptr, istOffset, typeAttr uint8) {
	*e = idtEntry{
		offsetLow:  uint16(entryAddr),
		selector:   kernelCodeSelector,
		ist:        istOffset & 0x7,
		typeAttr:   typeAttr,
		offsetMid:  uint16(entryAddr >> 16),
		offsetHigh: uint32(entryAddr >> 32),
	}
}

func (e *idtEntry) offset() uintptr {
	return uintptr(e.offsetLow) | uintptr(e.offsetMid)<<16 | uintptr(e.offsetHigh)<<32
}

var (
	idt      [numVectors]idtEntry
	handlers [numVectors]func(*Registers)

	// entryStubs lists the vectors that have an assembly entry point. IRQ
	// lines 0-15 arrive on 0x20-0x2f.
	entryStubs = [...]struct {
		vector InterruptNumber
		entry  func()
	}{
		{0x20, gateEntry20}, {0x21, gateEntry21}, {0x22, gateEntry22}, {0x23, gateEntry23},
		{0x24, gateEntry24}, {0x25, gateEntry25}, {0x26, gateEntry26}, {0x27, gateEntry27},
		{0x28, gateEntry28}, {0x29, gateEntry29}, {0x2a, gateEntry2a}, {0x2b, gateEntry2b},
		{0x2c, gateEntry2c}, {0x2d, gateEntry2d}, {0x2e, gateEntry2e}, {0x2f, gateEntry2f},
		{SyscallVector, gateEntry80},
		{0xff, gateEntryff},
	}

	// loadIDTFn is mocked by tests.
	loadIDTFn = loadIDT

	errNoEntryStub = &kernel.Error{Module: "gate", Message: "no entry stub for interrupt vector"}
)

// Init loads the interrupt descriptor table. Gates are marked present as
// handlers are registered with HandleInterrupt.
func Init() {
	loadIDTFn(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))
}

// HandleInterrupt points the gate for intNumber at its entry stub and
// arranges for handler to receive the saved registers. A non-zero istOffset
// switches to the matching interrupt stack table entry on entry. Passing a
// nil handler marks the gate as not present.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) *kernel.Error {
	entryAddr := entryStubAddr(intNumber)
	if entryAddr == 0 {
		return errNoEntryStub
	}

	if handler == nil {
		idt[intNumber] = idtEntry{}
		handlers[intNumber] = nil
		return nil
	}

	typeAttr := uint8(gateKernel)
	if intNumber == SyscallVector {
		typeAttr = gateUser
	}

	handlers[intNumber] = handler
	idt[intNumber].set(entryAddr, istOffset, typeAttr)
	return nil
}

func entryStubAddr(intNumber InterruptNumber) uintptr {
	for _, stub := range entryStubs {
		if stub.vector == intNumber {
			return funcPC(stub.entry)
		}
	}
	return 0
}

// funcPC returns the entry address of fn.
func funcPC(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// dispatchTrap is called by the entry stubs with the register frame they
// saved. Changes to regs are applied when the stub returns.
func dispatchTrap(regs *Registers) {
	if handler := handlers[regs.Vector()]; handler != nil {
		handler(regs)
		return
	}

	kfmt.Printf("[gate] no handler for vector 0x%x\n", regs.Info)
}

// gateCommon is the shared tail of the entry stubs. It is never called from
// Go code.
func gateCommon()

// loadIDT executes LIDT with the supplied table base and limit.
func loadIDT(base uintptr, limit uint16)

func gateEntry20()
func gateEntry21()
func gateEntry22()
func gateEntry23()
func gateEntry24()
func gateEntry25()
func gateEntry26()
func gateEntry27()
func gateEntry28()
func gateEntry29()
func gateEntry2a()
func gateEntry2b()
func gateEntry2c()
func gateEntry2d()
func gateEntry2e()
func gateEntry2f()
func gateEntry80()
func gateEntryff()
