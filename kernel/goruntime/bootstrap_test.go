package goruntime

import (
	"bootcore/kernel"
	"bootcore/kernel/heap"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/mm"
	"bootcore/kernel/mm/vmm"
	"reflect"
	"testing"
	"unsafe"
)

type frameSourceFn func() (mm.Frame, *kernel.Error)

func (fn frameSourceFn) AllocFrame() (mm.Frame, *kernel.Error) { return fn() }

func TestSysReserve(t *testing.T) {
	defer func() {
		reserveFn = reserveRegion
		regions = nil
	}()

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqSize       uintptr
			expRegionSize uintptr
		}{
			// exact multiple of page size
			{100 << mm.PageShift, 100 << mm.PageShift},
			// size should be rounded up to nearest page size
			{2*mm.PageSize - 1, 2 * mm.PageSize},
		}

		for specIndex, spec := range specs {
			reserveFn = func(rsvSize uintptr) (uintptr, *kernel.Error) {
				if rsvSize != spec.expRegionSize {
					t.Errorf("[spec %d] expected reservation size to be %d; got %d", specIndex, spec.expRegionSize, rsvSize)
				}

				return 0xbadf000, nil
			}

			if ptr := sysReserve(nil, spec.reqSize); uintptr(ptr) != 0xbadf000 {
				t.Errorf("[spec %d] expected sysReserve to return 0xbadf000; got 0x%x", specIndex, uintptr(ptr))
			}
		}
	})

	t.Run("placement hint", func(t *testing.T) {
		reserveFn = func(uintptr) (uintptr, *kernel.Error) {
			t.Fatal("unexpected reservation for a hinted request")
			return 0, nil
		}

		if ptr := sysReserve(unsafe.Pointer(uintptr(0xc000000000)), mm.PageSize); ptr != nil {
			t.Fatalf("expected sysReserve to decline a hinted request; got 0x%x", uintptr(ptr))
		}
	})

	t.Run("reserves from the runtime range", func(t *testing.T) {
		reserveFn = reserveRegion

		regions = nil
		if ptr := sysReserve(nil, mm.PageSize); ptr != nil {
			t.Fatalf("expected sysReserve to fail without a range; got 0x%x", uintptr(ptr))
		}

		regions = vmm.NewRegionReserver(0x100000, 0x104000)
		if ptr := sysReserve(nil, 2*mm.PageSize); uintptr(ptr) != 0x102000 {
			t.Fatalf("expected reservation at 0x102000; got 0x%x", uintptr(ptr))
		}
		if ptr := sysReserve(nil, 4*mm.PageSize); ptr != nil {
			t.Fatalf("expected sysReserve to return nil once the range is exhausted; got 0x%x", uintptr(ptr))
		}
	})
}

func TestSysMap(t *testing.T) {
	defer func() {
		mapRegionFn = vmm.MapRegion
		memsetFn = kernel.Memset
		panicFn = kfmt.Panic
		mapper, frames = nil, nil
	}()

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqAddr      uintptr
			reqSize      uintptr
			expStartAddr uintptr
			expPageCount uintptr
		}{
			// exact multiple of page size
			{100 << mm.PageShift, 4 * mm.PageSize, 100 << mm.PageShift, 4},
			// size should be rounded up to nearest page size
			{1 << mm.PageShift, (4 * mm.PageSize) + 1, 1 << mm.PageShift, 5},
		}

		mapper = vmm.MapperFunc(func(_ mm.Page, _ mm.Frame, _, _ vmm.PageTableEntryFlag) *kernel.Error { return nil })
		frames = frameSourceFn(func() (mm.Frame, *kernel.Error) { return mm.Frame(1), nil })

		for specIndex, spec := range specs {
			var (
				sysStat   uint64
				mapCalls  int
				zeroBytes uintptr
			)

			mapRegionFn = func(m vmm.Mapper, fs vmm.FrameSource, start, pageCount uintptr, flags vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
				mapCalls++
				if m == nil || fs == nil {
					t.Errorf("[spec %d] expected the configured mapper and frame source to be used", specIndex)
				}
				if start != spec.expStartAddr || pageCount != spec.expPageCount {
					t.Errorf("[spec %d] expected to map %d pages at 0x%x; got %d pages at 0x%x", specIndex, spec.expPageCount, spec.expStartAddr, pageCount, start)
				}
				if flags != vmm.KernelDataFlags {
					t.Errorf("[spec %d] expected map flags to be %d; got %d", specIndex, vmm.KernelDataFlags, flags)
				}
				return pageCount, nil
			}
			memsetFn = func(addr uintptr, value byte, size uintptr) {
				if addr != spec.expStartAddr || value != 0 {
					t.Errorf("[spec %d] expected the mapped region to be zeroed", specIndex)
				}
				zeroBytes += size
			}

			sysMap(unsafe.Pointer(spec.reqAddr), spec.reqSize, &sysStat)

			if mapCalls != 1 {
				t.Errorf("[spec %d] expected 1 map call; got %d", specIndex, mapCalls)
			}
			if exp := spec.expPageCount << mm.PageShift; zeroBytes != exp {
				t.Errorf("[spec %d] expected %d bytes to be zeroed; got %d", specIndex, exp, zeroBytes)
			}
			if sysStat != uint64(spec.reqSize) {
				t.Errorf("[spec %d] expected stat counter to be %d; got %d", specIndex, spec.reqSize, sysStat)
			}
		}
	})

	t.Run("map fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		mapRegionFn = func(_ vmm.Mapper, _ vmm.FrameSource, _, _ uintptr, _ vmm.PageTableEntryFlag) (uintptr, *kernel.Error) {
			return 2, expErr
		}
		memsetFn = func(_ uintptr, _ byte, _ uintptr) {
			t.Error("unexpected call to memset")
		}

		var panics []interface{}
		panicFn = func(e interface{}) { panics = append(panics, e) }

		var sysStat uint64
		sysMap(unsafe.Pointer(uintptr(0x100000)), 4*mm.PageSize, &sysStat)

		if len(panics) != 1 || panics[0] != expErr {
			t.Fatalf("expected a single panic with the mapping error; got %v", panics)
		}
		if sysStat != 0 {
			t.Fatalf("expected stat counter to remain 0; got %d", sysStat)
		}
	})
}

func TestSysAllocAndFree(t *testing.T) {
	defer func() {
		mallocFn = heap.Malloc
		freeFn = heap.Free
		ownsFn = heap.Owns
		memsetFn = kernel.Memset
	}()

	backing := make([]byte, 4*mm.PageSize)
	// start just past a page boundary so the block needs realigning
	blockAddr := mm.PageAlignUp(uintptr(unsafe.Pointer(&backing[0]))) + 16
	expRegionAddr := mm.PageAlignUp(blockAddr)

	var (
		mallocSize uintptr
		freed      []uintptr
		zeroed     uintptr
	)
	mallocFn = func(size uintptr) uintptr {
		mallocSize = size
		return blockAddr
	}
	freeFn = func(addr uintptr) { freed = append(freed, addr) }
	ownsFn = func(addr uintptr) bool { return addr >= blockAddr && addr < blockAddr+3*mm.PageSize }
	memsetFn = func(addr uintptr, _ byte, size uintptr) {
		if addr != expRegionAddr {
			t.Errorf("expected memset at 0x%x; got 0x%x", expRegionAddr, addr)
		}
		zeroed = size
	}

	var sysStat uint64
	ptr := sysAlloc(100, &sysStat)
	if uintptr(ptr) != expRegionAddr {
		t.Fatalf("expected sysAlloc to return page-aligned address 0x%x; got 0x%x", expRegionAddr, uintptr(ptr))
	}
	if mallocSize < 100+mm.PageSize {
		t.Fatalf("expected sysAlloc to request room for realignment; requested %d bytes", mallocSize)
	}
	if zeroed != 100 {
		t.Fatalf("expected 100 bytes to be zeroed; got %d", zeroed)
	}
	if sysStat != 100 {
		t.Fatalf("expected stat counter to be 100; got %d", sysStat)
	}

	sysFree(ptr, 100, &sysStat)
	if len(freed) != 1 || freed[0] != blockAddr {
		t.Fatalf("expected the heap block at 0x%x to be freed; got %v", blockAddr, freed)
	}
	if sysStat != 0 {
		t.Fatalf("expected stat counter to drop to 0; got %d", sysStat)
	}

	t.Run("arena space is never freed", func(t *testing.T) {
		freed = nil
		sysStat = uint64(mm.PageSize)
		sysFree(unsafe.Pointer(uintptr(0x100000)), mm.PageSize, &sysStat)
		if len(freed) != 0 || sysStat != 0 {
			t.Fatalf("expected only the stat counter to change; freed %v, stat %d", freed, sysStat)
		}
	})

	t.Run("heap failure", func(t *testing.T) {
		mallocFn = func(uintptr) uintptr { return 0 }
		if ptr := sysAlloc(100, &sysStat); ptr != nil {
			t.Fatalf("expected sysAlloc to return nil; got 0x%x", uintptr(ptr))
		}
	})
}

func TestNanotime(t *testing.T) {
	first := nanotime()
	if second := nanotime(); second <= first {
		t.Fatalf("expected nanotime to increase; got %d after %d", second, first)
	}
}

func TestGetRandomData(t *testing.T) {
	sample1 := make([]byte, 128)
	sample2 := make([]byte, 128)

	getRandomData(sample1)
	getRandomData(sample2)

	if reflect.DeepEqual(sample1, sample2) {
		t.Fatal("expected getRandomData to return different values for each invocation")
	}
}

func TestInit(t *testing.T) {
	defer func() {
		mallocInitFn = mallocInit
		algInitFn = algInit
		modulesInitFn = modulesInit
		typeLinksInitFn = typeLinksInit
		itabsInitFn = itabsInit
		mapper, frames, regions = nil, nil, nil
	}()

	var calls []string
	mallocInitFn = func() { calls = append(calls, "malloc") }
	algInitFn = func() { calls = append(calls, "alg") }
	modulesInitFn = func() { calls = append(calls, "modules") }
	typeLinksInitFn = func() { calls = append(calls, "typelinks") }
	itabsInitFn = func() { calls = append(calls, "itabs") }

	m := vmm.MapperFunc(func(_ mm.Page, _ mm.Frame, _, _ vmm.PageTableEntryFlag) *kernel.Error { return nil })
	fs := frameSourceFn(func() (mm.Frame, *kernel.Error) { return mm.InvalidFrame, nil })
	rsv := vmm.NewRegionReserver(0x100000, 0x200000)

	if err := Init(nil, fs, rsv); err != errMissingCollaborator {
		t.Fatalf("expected errMissingCollaborator; got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no runtime initialization without collaborators; got %v", calls)
	}

	if err := Init(m, fs, rsv); err != nil {
		t.Fatal(err)
	}
	if exp := []string{"malloc", "alg", "modules", "typelinks", "itabs"}; !reflect.DeepEqual(calls, exp) {
		t.Fatalf("expected runtime initialization order %v; got %v", exp, calls)
	}
	if regions != rsv || physPageSize != mm.PageSize {
		t.Fatal("expected Init to install the runtime range and page size")
	}
}
