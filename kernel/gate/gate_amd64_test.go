package gate

import (
	"bootcore/kernel/kfmt"
	"bytes"
	"testing"
	"unsafe"
)

func resetGates() {
	for i := range idt {
		idt[i] = idtEntry{}
		handlers[i] = nil
	}
}

func TestInit(t *testing.T) {
	defer func() {
		loadIDTFn = loadIDT
	}()

	var (
		gotBase  uintptr
		gotLimit uint16
		calls    int
	)
	loadIDTFn = func(base uintptr, limit uint16) {
		calls++
		gotBase, gotLimit = base, limit
	}

	Init()

	if calls != 1 {
		t.Fatalf("expected loadIDT to be called once; got %d", calls)
	}
	if exp := uintptr(unsafe.Pointer(&idt[0])); gotBase != exp {
		t.Fatalf("expected IDT base 0x%x; got 0x%x", exp, gotBase)
	}
	if exp := uint16(numVectors*16 - 1); gotLimit != exp {
		t.Fatalf("expected IDT limit %d; got %d", exp, gotLimit)
	}
}

func TestIDTEntrySize(t *testing.T) {
	if got := unsafe.Sizeof(idtEntry{}); got != 16 {
		t.Fatalf("expected a gate descriptor to occupy 16 bytes; got %d", got)
	}
}

func TestHandleInterrupt(t *testing.T) {
	defer resetGates()

	handler := func(*Registers) {}

	specs := []struct {
		vector      InterruptNumber
		istOffset   uint8
		expTypeAttr uint8
	}{
		{0x20, 0, gateKernel},
		{0x2f, 1, gateKernel},
		{SyscallVector, 0, gateUser},
		{0xff, 0, gateKernel},
	}

	for specIndex, spec := range specs {
		if err := HandleInterrupt(spec.vector, spec.istOffset, handler); err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		entry := idt[spec.vector]
		if exp := entryStubAddr(spec.vector); entry.offset() != exp || exp == 0 {
			t.Errorf("[spec %d] expected gate to point at entry stub 0x%x; got 0x%x", specIndex, exp, entry.offset())
		}
		if entry.selector != kernelCodeSelector {
			t.Errorf("[spec %d] expected selector 0x%x; got 0x%x", specIndex, kernelCodeSelector, entry.selector)
		}
		if entry.ist != spec.istOffset {
			t.Errorf("[spec %d] expected IST offset %d; got %d", specIndex, spec.istOffset, entry.ist)
		}
		if entry.typeAttr != spec.expTypeAttr {
			t.Errorf("[spec %d] expected type attributes 0x%x; got 0x%x", specIndex, spec.expTypeAttr, entry.typeAttr)
		}
		if handlers[spec.vector] == nil {
			t.Errorf("[spec %d] expected handler to be registered", specIndex)
		}
	}

	t.Run("clear handler", func(t *testing.T) {
		if err := HandleInterrupt(0x21, 0, handler); err != nil {
			t.Fatal(err)
		}
		if err := HandleInterrupt(0x21, 0, nil); err != nil {
			t.Fatal(err)
		}
		if idt[0x21] != (idtEntry{}) || handlers[0x21] != nil {
			t.Fatal("expected a nil handler to mark the gate as not present")
		}
	})

	t.Run("vector without entry stub", func(t *testing.T) {
		for _, vector := range []InterruptNumber{PageFaultException, 0x30, 0x7f} {
			if err := HandleInterrupt(vector, 0, handler); err != errNoEntryStub {
				t.Errorf("[vector 0x%x] expected errNoEntryStub; got %v", uint8(vector), err)
			}
			if idt[vector] != (idtEntry{}) {
				t.Errorf("[vector 0x%x] expected gate to remain unset", uint8(vector))
			}
		}
	})
}

func TestIDTEntryOffset(t *testing.T) {
	var entry idtEntry
	entry.set(0xffff800012345678, 0xf, gateKernel)

	if got := entry.offset(); got != 0xffff800012345678 {
		t.Fatalf("expected offset 0xffff800012345678; got 0x%x", got)
	}
	if entry.ist != 0x7 {
		t.Fatalf("expected IST offset to be truncated to 3 bits; got %d", entry.ist)
	}
}

func TestDispatchTrap(t *testing.T) {
	defer func() {
		resetGates()
		kfmt.SetOutputSink(nil)
	}()

	var got *Registers
	if err := HandleInterrupt(0x22, 0, func(regs *Registers) {
		got = regs
		regs.RAX = 0xbadf00d
	}); err != nil {
		t.Fatal(err)
	}

	regs := Registers{Info: 0x22}
	dispatchTrap(&regs)
	if got != &regs {
		t.Fatal("expected handler to receive the saved register frame")
	}
	if regs.RAX != 0xbadf00d {
		t.Fatal("expected handler changes to the frame to be kept")
	}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	dispatchTrap(&Registers{Info: 0x23})
	if exp := "[gate] no handler for vector 0x23\n"; buf.String() != exp {
		t.Fatalf("expected output %q; got %q", exp, buf.String())
	}
}
