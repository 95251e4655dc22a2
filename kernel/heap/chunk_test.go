package heap

import (
	"math/rand"
	"testing"
)

type walkedBlock struct {
	addr, size uintptr
	used       bool
}

func blocksOf(c *ChunkAllocator) []walkedBlock {
	var list []walkedBlock
	c.Walk(func(addr, size uintptr, used bool) bool {
		list = append(list, walkedBlock{addr, size, used})
		return true
	})
	return list
}

// checkChain verifies that blocks cover the managed range without gaps or
// overlaps and that no two adjacent blocks are free.
func checkChain(t *testing.T, c *ChunkAllocator) {
	t.Helper()

	nextHeader := c.Start()
	prevFree := false
	for index, b := range blocksOf(c) {
		if b.addr != nextHeader+HeaderSize {
			t.Fatalf("block %d: expected payload at 0x%x; got 0x%x", index, nextHeader+HeaderSize, b.addr)
		}
		if prevFree && !b.used {
			t.Fatalf("block %d: found two adjacent free blocks", index)
		}
		prevFree = !b.used
		nextHeader = b.addr + b.size
	}

	if nextHeader != c.End() {
		t.Fatalf("expected blocks to cover range up to 0x%x; got 0x%x", c.End(), nextHeader)
	}
}

func TestChunkAllocatorInit(t *testing.T) {
	var c ChunkAllocator

	if _, ok := c.Alloc(32); ok {
		t.Fatal("expected Alloc on an uninitialized allocator to fail")
	}
	if err := c.Expand(4096); err != errNoRange {
		t.Fatalf("expected errNoRange; got %v", err)
	}

	if err := c.Init(0x1000, 0x1008); err != errRangeTooSmall {
		t.Fatalf("expected errRangeTooSmall; got %v", err)
	}
	if err := c.Init(0x2000, 0x1000); err != errRangeTooSmall {
		t.Fatalf("expected errRangeTooSmall; got %v", err)
	}

	if err := c.Init(0x1000, 0x2000); err != nil {
		t.Fatal(err)
	}

	exp := []walkedBlock{{0x1000 + HeaderSize, 0x1000 - HeaderSize, false}}
	if got := blocksOf(&c); len(got) != 1 || got[0] != exp[0] {
		t.Fatalf("expected blocks %v; got %v", exp, got)
	}
}

func TestChunkAllocatorScenario(t *testing.T) {
	var c ChunkAllocator
	if err := c.Init(0x10000, 0x11000); err != nil {
		t.Fatal(err)
	}

	addr, ok := c.Alloc(100)
	if !ok || addr != 0x10000+HeaderSize {
		t.Fatalf("expected allocation at 0x%x; got 0x%x, %t", 0x10000+HeaderSize, addr, ok)
	}
	checkChain(t, &c)

	if _, ok = c.Alloc(5000); ok {
		t.Fatal("expected a 5000 byte allocation to fail")
	}

	size, err := c.Free(addr)
	if err != nil || size != 100 {
		t.Fatalf("expected Free to return (100, nil); got (%d, %v)", size, err)
	}

	exp := walkedBlock{0x10000 + HeaderSize, 4096 - HeaderSize, false}
	if got := blocksOf(&c); len(got) != 1 || got[0] != exp {
		t.Fatalf("expected a single free block %v; got %v", exp, got)
	}
}

func TestChunkAllocatorFirstFit(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0, 1024)

	a, _ := c.Alloc(64)
	b, _ := c.Alloc(64)
	_, _ = c.Alloc(64)
	_, _ = c.Free(a)

	// a fits in the hole left by the first block only if a header fits too
	if got, ok := c.Alloc(64 - HeaderSize); !ok || got != a {
		t.Fatalf("expected allocation to reuse address 0x%x; got 0x%x", a, got)
	}

	_, _ = c.Free(b)
	// too big for the hole left by b; must be served after the last block
	if got, ok := c.Alloc(80); !ok || got <= b {
		t.Fatalf("expected allocation past 0x%x; got 0x%x", b, got)
	}
	checkChain(t, &c)
}

func TestChunkAllocatorMinAllocSize(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0, 1024)

	addr, _ := c.Alloc(1)
	if size, _ := c.Free(addr); size != MinAllocSize {
		t.Fatalf("expected block size to be rounded up to %d; got %d", MinAllocSize, size)
	}
}

func TestChunkAllocatorExactFitLeavesEmptySplinter(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0, 128)

	addr, ok := c.Alloc(128 - 2*HeaderSize)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}

	blocks := blocksOf(&c)
	if len(blocks) != 2 || blocks[1].size != 0 || blocks[1].used {
		t.Fatalf("expected a zero-sized free splinter; got %v", blocks)
	}
	checkChain(t, &c)

	if _, ok = c.Alloc(1); ok {
		t.Fatal("expected the allocator to be exhausted")
	}

	_, _ = c.Free(addr)
	if blocks = blocksOf(&c); len(blocks) != 1 {
		t.Fatalf("expected a single block after free; got %v", blocks)
	}
}

func TestChunkAllocatorCoalesceRuns(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0, 4096)

	var addrs [5]uintptr
	for i := range addrs {
		addrs[i], _ = c.Alloc(64)
	}

	// free 1 and 3 first, then 2 which must merge all three
	for _, i := range []int{1, 3, 2} {
		if _, err := c.Free(addrs[i]); err != nil {
			t.Fatal(err)
		}
		checkChain(t, &c)
	}

	blocks := blocksOf(&c)
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks after merging; got %v", blocks)
	}
	if exp := 3*64 + 2*HeaderSize; blocks[1].size != exp || blocks[1].used {
		t.Fatalf("expected merged free block of size %d; got %v", exp, blocks[1])
	}
}

func TestChunkAllocatorFreeErrors(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0x1000, 0x2000)

	addr, _ := c.Alloc(64)

	specs := []uintptr{
		0,
		0x1000,
		0x3000,
		addr + 1,
		addr + 64 + HeaderSize, // the free splinter
	}

	for specIndex, spec := range specs {
		if _, err := c.Free(spec); err != errInvalidFree {
			t.Errorf("[spec %d] expected errInvalidFree for 0x%x; got %v", specIndex, spec, err)
		}
	}

	if _, err := c.Free(addr); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Free(addr); err != errInvalidFree {
		t.Fatalf("expected double free to return errInvalidFree; got %v", err)
	}
}

func TestChunkAllocatorExpand(t *testing.T) {
	t.Run("last block free", func(t *testing.T) {
		var c ChunkAllocator
		_ = c.Init(0, 4096)

		if err := c.Expand(8); err != errRangeTooSmall {
			t.Fatalf("expected errRangeTooSmall; got %v", err)
		}

		if err := c.Expand(4096); err != nil {
			t.Fatal(err)
		}
		checkChain(t, &c)

		blocks := blocksOf(&c)
		if len(blocks) != 1 || blocks[0].size != 8192-HeaderSize {
			t.Fatalf("expected a single merged block; got %v", blocks)
		}
	})

	t.Run("last block used", func(t *testing.T) {
		var c ChunkAllocator
		_ = c.Init(0, 4096)
		_, _ = c.Alloc(4096 - 2*HeaderSize)

		if err := c.Expand(4096); err != nil {
			t.Fatal(err)
		}
		checkChain(t, &c)

		// the empty splinter and the new block merge
		blocks := blocksOf(&c)
		if len(blocks) != 2 || blocks[1].size != 4096 || blocks[1].used {
			t.Fatalf("expected the appended block to merge with the splinter; got %v", blocks)
		}

		if _, ok := c.Alloc(4096 - HeaderSize); !ok {
			t.Fatal("expected allocation to fit in the expanded range")
		}
	})
}

func TestChunkAllocatorRandomOps(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0x100000, 0x100000+64*1024)

	rng := rand.New(rand.NewSource(42))
	live := make(map[uintptr]uintptr)

	for i := 0; i < 5000; i++ {
		switch {
		case rng.Intn(3) != 0:
			size := uintptr(rng.Intn(512))
			if addr, ok := c.Alloc(size); ok {
				if _, dup := live[addr]; dup {
					t.Fatalf("address 0x%x handed out twice", addr)
				}
				if size < MinAllocSize {
					size = MinAllocSize
				}
				live[addr] = size
			}
		case len(live) > 0:
			for addr, size := range live {
				got, err := c.Free(addr)
				if err != nil || got != size {
					t.Fatalf("expected Free(0x%x) to return (%d, nil); got (%d, %v)", addr, size, got, err)
				}
				delete(live, addr)
				break
			}
		}

		if i%500 == 0 {
			_ = c.Expand(4096)
		}
		checkChain(t, &c)
	}

	for addr := range live {
		_, _ = c.Free(addr)
	}
	if blocks := blocksOf(&c); len(blocks) != 1 || blocks[0].used {
		t.Fatalf("expected a single free block after freeing everything; got %d blocks", len(blocks))
	}

	// block records must be recycled rather than accumulated
	if c.numBlocks > 2048 {
		t.Fatalf("expected block records to be recycled; pool holds %d records", c.numBlocks)
	}
}

func TestChunkAllocatorRecordPoolExhaustion(t *testing.T) {
	var c ChunkAllocator
	_ = c.Init(0, uintptr(MaxBlocks+1)*(MinAllocSize+HeaderSize))

	// every allocation leaves a splinter record behind
	var last uintptr
	for i := 1; i < MaxBlocks; i++ {
		addr, ok := c.Alloc(MinAllocSize)
		if !ok {
			t.Fatalf("expected allocation %d to succeed", i)
		}
		last = addr
	}

	if _, ok := c.Alloc(MinAllocSize); ok {
		t.Fatal("expected Alloc to fail once the record pool is exhausted")
	}
	if err := c.Expand(4096); err != nil {
		t.Fatalf("expected Expand to grow the free tail in place; got %v", err)
	}
	checkChain(t, &c)

	// freeing a block recycles the tail record it merges with
	if _, err := c.Free(last); err != nil {
		t.Fatal(err)
	}
	if !c.hasSpareRecord() {
		t.Fatal("expected the merged record to be recycled")
	}
	if addr, ok := c.Alloc(MinAllocSize); !ok || addr != last {
		t.Fatalf("expected the freed block to be reused at 0x%x; got 0x%x, %t", last, addr, ok)
	}
	checkChain(t, &c)
}
