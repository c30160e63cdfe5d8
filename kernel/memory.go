package kernel

import (
	"fmt"

	"github.com/nexskernel/core/bootinfo"
	"github.com/nexskernel/core/cache/mempool"
	"github.com/nexskernel/core/internal/buddy"
	"github.com/nexskernel/core/internal/secure"
)

// secureRegionBytes is the fixed tail reserved for the secure bump
// region, per spec.md §6's memory layout constants (64 KiB).
const secureRegionBytes = 64 * 1024

// buddyMaxOrder is chosen so the largest block reaches at least 1 MiB
// above the 4 KiB minimum block size (2^8 * 4KiB = 1MiB), per spec.md
// §3's "maximum order ≥ 8."
const buddyMaxOrder = 12

// carveMemory implements spec.md §4.C/§4.D's init step: scan desc for
// the largest usable region above 1 MiB, reserve a 64 KiB tail as the
// secure region, and hand the remainder to the buddy allocator.
func carveMemory(desc *bootinfo.Descriptor) (*buddy.Heap, *secure.Region, error) {
	region, ok := desc.LargestUsableRegion(1 << 20)
	if !ok {
		return nil, nil, fmt.Errorf("kernel: no usable region above 1MiB in boot descriptor")
	}
	if region.Length <= secureRegionBytes {
		return nil, nil, fmt.Errorf("kernel: usable region too small to carve a secure tail (%d bytes)", region.Length)
	}

	// The backing arenas for both the buddy heap and the secure region
	// are carved from the hosted Go heap via cache/mempool's size-classed
	// pool rather than a bare make(), the same way a real kernel's heap
	// arena is itself carved from a coarser-grained physical allocator
	// one layer down — the pool's footer-tagged []byte is otherwise
	// indistinguishable from a freshly made one to every caller below.
	heapSize := region.Length - secureRegionBytes
	heapArena := mempool.Malloc(int(heapSize))
	heap, err := buddy.New(heapArena, buddyMaxOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: buddy init: %w", err)
	}

	secureBase := region.Base + heapSize
	secureArena := mempool.Malloc(secureRegionBytes)
	secureRegion, err := secure.New(secureBase, secureArena)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: secure region init: %w", err)
	}

	return heap, secureRegion, nil
}
