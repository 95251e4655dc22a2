package pmm

import (
	"bootcore/kernel"
	"bootcore/kernel/mm"
	"bootcore/kernel/sync"
	"math/bits"
)

const bitmapWords = mm.MaxFrames / 64

var (
	errOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errFrameOutOfRange = &kernel.Error{Module: "pmm", Message: "frame outside of tracked physical memory"}
	errDoubleFree      = &kernel.Error{Module: "pmm", Message: "frame is already free"}
)

// BitmapAllocator tracks every frame below mm.PhysLimit with a single bit; a
// set bit marks a free frame. The zero value tracks no free memory; frames
// become available once they are passed to MarkFree.
type BitmapAllocator struct {
	lock sync.IRQSpinlock

	bitmap [bitmapWords]uint64

	// firstFreeWord is a hint; no bitmap word before it has a set bit.
	firstFreeWord uint32

	freeCount uint32
	released  uint32
	seeded    bool
}

// MarkFree flags the frame that contains addr as available and reports
// whether its state changed. Marking a frame that is already free or lies
// above mm.PhysLimit has no effect.
func (alloc *BitmapAllocator) MarkFree(addr uintptr) bool {
	frame := mm.FrameFromAddress(addr)
	if uint64(frame) >= uint64(mm.MaxFrames) {
		return false
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.setFree(frame) {
		return false
	}
	alloc.released++
	return true
}

// AllocFrame reserves and returns the lowest numbered free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.freeCount == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for word := alloc.firstFreeWord; word < bitmapWords; word++ {
		if alloc.bitmap[word] == 0 {
			continue
		}

		bit := uint32(bits.TrailingZeros64(alloc.bitmap[word]))
		alloc.bitmap[word] &^= 1 << bit
		alloc.freeCount--
		alloc.firstFreeWord = word
		return mm.Frame(word<<6 | bit), nil
	}

	// freeCount and the bitmap disagree; treat it as exhaustion.
	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame returns a frame obtained by AllocFrame to the free pool.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if uint64(frame) >= uint64(mm.MaxFrames) {
		return errFrameOutOfRange
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.setFree(frame) {
		return errDoubleFree
	}
	return nil
}

// FreeCount returns the number of frames currently available.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.freeCount
}

// TotalReleased returns the number of distinct frames handed to MarkFree.
func (alloc *BitmapAllocator) TotalReleased() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.released
}

// setFree sets the bit for frame and reports whether it was previously clear.
// The caller must hold the lock.
func (alloc *BitmapAllocator) setFree(frame mm.Frame) bool {
	word, mask := uint32(frame>>6), uint64(1)<<(frame&63)
	if alloc.bitmap[word]&mask != 0 {
		return false
	}

	alloc.bitmap[word] |= mask
	alloc.freeCount++
	if word < alloc.firstFreeWord {
		alloc.firstFreeWord = word
	}
	return true
}
