package heap

import "bootcore/kernel"

const (
	// HeaderSize is the number of bytes of the managed range accounted to
	// each block's bookkeeping.
	HeaderSize = uintptr(16)

	// MinAllocSize is the smallest payload handed out by ChunkAllocator.
	// Smaller requests are rounded up.
	MinAllocSize = uintptr(16)

	// MaxBlocks is the number of block records a ChunkAllocator can track.
	MaxBlocks = 4096
)

var (
	errRangeTooSmall = &kernel.Error{Module: "heap", Message: "range too small to hold a block"}
	errInvalidFree   = &kernel.Error{Module: "heap", Message: "address does not belong to an allocated block"}
	errNoRange       = &kernel.Error{Module: "heap", Message: "allocator has not been initialized"}
	errNoRecords     = &kernel.Error{Module: "heap", Message: "block record pool exhausted"}
)

type blockIndex int32

const noBlock blockIndex = -1

// block describes one span of the managed range. A block occupies
// HeaderSize+size bytes starting at offset.
type block struct {
	offset uintptr
	size   uintptr
	used   bool

	// next links blocks in address order. For recycled records it links
	// the free-record list instead.
	next blockIndex
}

// ChunkAllocator is a first-fit allocator over a caller-owned virtual
// address range. Block records live in a fixed pool embedded in the
// allocator and reference each other by index, so tracking blocks never
// allocates memory. The managed memory itself is never read or written.
//
// ChunkAllocator is not safe for concurrent use.
type ChunkAllocator struct {
	start, end uintptr

	blocks      [MaxBlocks]block
	numBlocks   blockIndex
	first       blockIndex
	freeRecords blockIndex
}

// Init resets the allocator to manage [start, end) as a single free block.
func (c *ChunkAllocator) Init(start, end uintptr) *kernel.Error {
	if end < start || end-start < HeaderSize {
		return errRangeTooSmall
	}

	c.start, c.end = start, end
	c.numBlocks = 0
	c.freeRecords = noBlock
	c.first = c.newBlock(0, end-start-HeaderSize)
	return nil
}

// Start returns the first address of the managed range.
func (c *ChunkAllocator) Start() uintptr { return c.start }

// End returns the address just past the managed range.
func (c *ChunkAllocator) End() uintptr { return c.end }

// Expand appends a free block covering [End(), End()+extra). If the last
// block is free it grows in place instead.
func (c *ChunkAllocator) Expand(extra uintptr) *kernel.Error {
	if c.numBlocks == 0 {
		return errNoRange
	}
	if extra < HeaderSize {
		return errRangeTooSmall
	}

	last := c.first
	for c.blocks[last].next != noBlock {
		last = c.blocks[last].next
	}

	if !c.blocks[last].used {
		c.blocks[last].size += extra
		c.end += extra
		return nil
	}

	appended := c.newBlock(c.end-c.start, extra-HeaderSize)
	if appended == noBlock {
		return errNoRecords
	}
	c.blocks[last].next = appended
	c.end += extra
	return nil
}

// Alloc reserves size bytes and returns the address of the payload. It
// returns false if no free block is large enough or no block record is left
// to describe the remainder. A missing block is not an error condition and
// callers are expected to grow the range and retry.
func (c *ChunkAllocator) Alloc(size uintptr) (uintptr, bool) {
	if c.numBlocks == 0 || !c.hasSpareRecord() || size > c.end-c.start {
		return 0, false
	}
	if size < MinAllocSize {
		size = MinAllocSize
	}

	for cur := c.first; cur != noBlock; cur = c.blocks[cur].next {
		b := &c.blocks[cur]
		if b.used || b.size < size+HeaderSize {
			continue
		}

		splinterOffset := b.offset + HeaderSize + size
		splinterSize := b.size - size - HeaderSize

		b.size = size
		b.used = true
		payload := c.start + b.offset + HeaderSize

		splinter := c.newBlock(splinterOffset, splinterSize)
		c.blocks[splinter].next = c.blocks[cur].next
		c.blocks[cur].next = splinter

		return payload, true
	}

	return 0, false
}

// Free releases the block whose payload starts at addr and returns its
// payload size.
func (c *ChunkAllocator) Free(addr uintptr) (uintptr, *kernel.Error) {
	if addr < c.start+HeaderSize || addr >= c.end {
		return 0, errInvalidFree
	}

	offset := addr - c.start - HeaderSize
	for cur := c.first; cur != noBlock; cur = c.blocks[cur].next {
		b := &c.blocks[cur]
		if b.offset < offset {
			continue
		}

		if b.offset > offset || !b.used {
			break
		}

		b.used = false
		size := b.size
		c.coalesce()
		return size, nil
	}

	return 0, errInvalidFree
}

// Walk invokes fn for each block in address order with the payload address,
// payload size and used flag of the block. Returning false stops the walk.
func (c *ChunkAllocator) Walk(fn func(addr, size uintptr, used bool) bool) {
	if c.numBlocks == 0 {
		return
	}
	for cur := c.first; cur != noBlock; cur = c.blocks[cur].next {
		b := c.blocks[cur]
		if !fn(c.start+b.offset+HeaderSize, b.size, b.used) {
			return
		}
	}
}

// coalesce merges every run of adjacent free blocks into its first block.
func (c *ChunkAllocator) coalesce() {
	cur := c.first
	for cur != noBlock {
		next := c.blocks[cur].next
		if next == noBlock {
			return
		}

		if c.blocks[cur].used || c.blocks[next].used {
			cur = next
			continue
		}

		// Stay on cur so that a following free block is merged too.
		c.blocks[cur].size += HeaderSize + c.blocks[next].size
		c.blocks[cur].next = c.blocks[next].next
		c.releaseBlock(next)
	}
}

func (c *ChunkAllocator) newBlock(offset, size uintptr) blockIndex {
	b := block{offset: offset, size: size, next: noBlock}

	if c.freeRecords != noBlock {
		index := c.freeRecords
		c.freeRecords = c.blocks[index].next
		c.blocks[index] = b
		return index
	}

	if c.numBlocks == MaxBlocks {
		return noBlock
	}

	c.blocks[c.numBlocks] = b
	c.numBlocks++
	return c.numBlocks - 1
}

func (c *ChunkAllocator) hasSpareRecord() bool {
	return c.freeRecords != noBlock || c.numBlocks < MaxBlocks
}

func (c *ChunkAllocator) releaseBlock(index blockIndex) {
	c.blocks[index] = block{next: c.freeRecords}
	c.freeRecords = index
}
