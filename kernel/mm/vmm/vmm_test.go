package vmm

import (
	"bootcore/kernel"
	"bootcore/kernel/mm"
	"testing"
)

type frameSourceFn func() (mm.Frame, *kernel.Error)

func (fn frameSourceFn) AllocFrame() (mm.Frame, *kernel.Error) { return fn() }

func TestMapRegion(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var (
			nextFrame mm.Frame = 100
			mapped    []mm.Page
		)

		frames := frameSourceFn(func() (mm.Frame, *kernel.Error) {
			nextFrame++
			return nextFrame, nil
		})
		mapper := MapperFunc(func(page mm.Page, frame mm.Frame, tableFlags, pageFlags PageTableEntryFlag) *kernel.Error {
			if exp := mm.Frame(101 + len(mapped)); frame != exp {
				t.Errorf("expected page %d to be mapped to frame %d; got %d", page, exp, frame)
			}
			if tableFlags != KernelTableFlags || pageFlags != KernelDataFlags {
				t.Errorf("unexpected flags %x, %x", tableFlags, pageFlags)
			}
			mapped = append(mapped, page)
			return nil
		})

		n, err := MapRegion(mapper, frames, 0x400000, 3, KernelDataFlags)
		if err != nil || n != 3 {
			t.Fatalf("expected 3 mapped pages and no error; got %d, %v", n, err)
		}

		for i, page := range mapped {
			if exp := mm.Page(0x400 + i); page != exp {
				t.Errorf("expected mapping %d to target page %d; got %d", i, exp, page)
			}
		}
	})

	t.Run("frame allocation error", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		calls := 0
		frames := frameSourceFn(func() (mm.Frame, *kernel.Error) {
			if calls++; calls == 3 {
				return mm.InvalidFrame, expErr
			}
			return mm.Frame(calls), nil
		})
		mapper := MapperFunc(func(_ mm.Page, _ mm.Frame, _, _ PageTableEntryFlag) *kernel.Error { return nil })

		if n, err := MapRegion(mapper, frames, 0, 4, KernelDataFlags); err != expErr || n != 2 {
			t.Fatalf("expected 2 mapped pages and error %v; got %d, %v", expErr, n, err)
		}
	})

	t.Run("map error", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "map failed"}
		frames := frameSourceFn(func() (mm.Frame, *kernel.Error) { return 1, nil })
		mapper := MapperFunc(func(_ mm.Page, _ mm.Frame, _, _ PageTableEntryFlag) *kernel.Error { return expErr })

		if n, err := MapRegion(mapper, frames, 0, 4, KernelDataFlags); err != expErr || n != 0 {
			t.Fatalf("expected 0 mapped pages and error %v; got %d, %v", expErr, n, err)
		}
	})
}

func TestRegionReserver(t *testing.T) {
	r := NewRegionReserver(0x10000, 0x20000)

	specs := []struct {
		size    uintptr
		expAddr uintptr
		expErr  *kernel.Error
	}{
		{0x1000, 0x1f000, nil},
		{42, 0x1e000, nil},
		{0x8000, 0x16000, nil},
		{0x7000, 0, errNoSpace},
		{0, 0, errNoSpace},
		{0x6000, 0x10000, nil},
		{0x1000, 0, errNoSpace},
	}

	for specIndex, spec := range specs {
		addr, err := r.Reserve(spec.size)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if addr != spec.expAddr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.expAddr, addr)
		}
	}

	if r.Remaining() != 0 {
		t.Fatalf("expected no space to remain; got 0x%x", r.Remaining())
	}

	r.Init(0x10001, 0x13fff)
	if got := r.Remaining(); got != 0x2000 {
		t.Fatalf("expected Init to reset the reserver to an aligned 0x2000 bytes; got 0x%x", got)
	}
	if addr, err := r.Reserve(0x1000); err != nil || addr != 0x12000 {
		t.Fatalf("expected reservation at 0x12000; got 0x%x, %v", addr, err)
	}
}

func TestHasFlags(t *testing.T) {
	if !KernelDataFlags.HasFlags(FlagPresent | FlagRW) {
		t.Error("expected KernelDataFlags to include FlagPresent|FlagRW")
	}
	if KernelTableFlags.HasFlags(FlagGlobal) {
		t.Error("expected KernelTableFlags not to include FlagGlobal")
	}
}

func TestIdentityMapRegion(t *testing.T) {
	var pages []mm.Page
	mapper := MapperFunc(func(page mm.Page, frame mm.Frame, _, pageFlags PageTableEntryFlag) *kernel.Error {
		if uintptr(page) != uintptr(frame) {
			t.Errorf("expected identity mapping; got page %d -> frame %d", page, frame)
		}
		if !pageFlags.HasFlags(FlagDoNotCache) {
			t.Errorf("expected page flags to be passed through")
		}
		pages = append(pages, page)
		return nil
	})

	// spans three pages: 0xfec00ff0 - 0xfec02010
	if err := IdentityMapRegion(mapper, 0xfec00ff0, 0x1020, FlagPresent|FlagRW|FlagDoNotCache); err != nil {
		t.Fatal(err)
	}

	exp := []mm.Page{0xfec00, 0xfec01, 0xfec02}
	if len(pages) != len(exp) {
		t.Fatalf("expected pages %v; got %v", exp, pages)
	}
	for i := range exp {
		if pages[i] != exp[i] {
			t.Fatalf("expected pages %v; got %v", exp, pages)
		}
	}

	expErr := &kernel.Error{Module: "test", Message: "map failed"}
	failing := MapperFunc(func(_ mm.Page, _ mm.Frame, _, _ PageTableEntryFlag) *kernel.Error { return expErr })
	if err := IdentityMapRegion(failing, 0, 1, FlagPresent); err != expErr {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}
}
