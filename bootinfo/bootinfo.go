// Package bootinfo decodes the boot descriptor handed to the kernel's
// entry point: a fixed-size header (magic, region count, memory totals,
// heap/secure-region geometry) followed by a variable-length array of
// BIOS/UEFI memory-map regions. The two-stage boot loader that produces
// this block, and the long-mode transition that lands in the kernel, are
// external collaborators per spec.md §1 — this package only needs to
// agree with them on wire layout.
//
// The header-then-array decode below is grounded on the teacher's
// protocol/ttheader package: a fixed magic+fields header, validated
// before a variable-length region is consumed.
package bootinfo

import (
	"encoding/binary"
	"fmt"
)

// Magic is the sentinel value the descriptor must begin with.
const Magic uint64 = 0xDEADBEEF

// headerSize is the number of bytes occupied by the fixed fields after
// the magic: e820_count(2) + reserved(2) + total_memory_mb(4) +
// secure_base(8) + heap_base(8) + heap_size(8).
const headerSize = 2 + 2 + 4 + 8 + 8 + 8

// regionSize is the encoded size of one memory-region entry:
// base(8) + length(8) + type(4) + attrs(4).
const regionSize = 8 + 8 + 4 + 4

// RegionType classifies one BIOS/UEFI memory-map entry.
type RegionType uint32

const (
	RegionUsable RegionType = iota + 1
	RegionReserved
	RegionACPI
	RegionNVS
	RegionUnusable
)

func (t RegionType) String() string {
	switch t {
	case RegionUsable:
		return "usable"
	case RegionReserved:
		return "reserved"
	case RegionACPI:
		return "acpi"
	case RegionNVS:
		return "nvs"
	case RegionUnusable:
		return "unusable"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Region is one physical-memory-map entry.
type Region struct {
	Base   uint64
	Length uint64
	Type   RegionType
	Attrs  uint32
}

// End returns the exclusive end address of the region.
func (r Region) End() uint64 { return r.Base + r.Length }

// Descriptor is the decoded boot descriptor: immutable once produced,
// consumed exactly once at startup per spec.md §3.
type Descriptor struct {
	TotalMemoryMB uint32
	SecureBase    uint64
	HeapBase      uint64
	HeapSize      uint64
	Regions       []Region
}

// UsableMegabytes sums the length of every usable region, in megabytes.
func (d *Descriptor) UsableMegabytes() uint64 {
	var total uint64
	for _, r := range d.Regions {
		if r.Type == RegionUsable {
			total += r.Length
		}
	}
	return total / (1 << 20)
}

// LargestUsableRegion returns the biggest usable region whose base is at
// or above the given floor (the buddy allocator's §4.C init excludes
// anything below 1 MiB), or false if none qualifies.
func (d *Descriptor) LargestUsableRegion(floor uint64) (Region, bool) {
	var best Region
	found := false
	for _, r := range d.Regions {
		if r.Type != RegionUsable || r.Base < floor {
			continue
		}
		if !found || r.Length > best.Length {
			best = r
			found = true
		}
	}
	return best, found
}

// Decode parses a boot descriptor from raw bytes laid out per spec.md
// §6: an 8-byte magic, the fixed header, then e820_count region
// entries. It returns an error (never a fatal panic — the caller, per
// spec.md §6, logs and falls back to degraded-mode constants) if the
// magic does not match or the buffer is short.
func Decode(raw []byte) (*Descriptor, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("bootinfo: buffer too short for magic (%d bytes)", len(raw))
	}
	magic := binary.LittleEndian.Uint64(raw[0:8])
	if magic != Magic {
		return nil, fmt.Errorf("bootinfo: bad magic %#x, want %#x", magic, Magic)
	}

	rest := raw[8:]
	if len(rest) < headerSize {
		return nil, fmt.Errorf("bootinfo: buffer too short for header (%d bytes)", len(rest))
	}

	e820Count := binary.LittleEndian.Uint16(rest[0:2])
	// rest[2:4] is reserved and ignored.
	totalMB := binary.LittleEndian.Uint32(rest[4:8])
	secureBase := binary.LittleEndian.Uint64(rest[8:16])
	heapBase := binary.LittleEndian.Uint64(rest[16:24])
	heapSize := binary.LittleEndian.Uint64(rest[24:32])

	body := rest[headerSize:]
	need := int(e820Count) * regionSize
	if len(body) < need {
		return nil, fmt.Errorf("bootinfo: buffer too short for %d regions (need %d, have %d)",
			e820Count, need, len(body))
	}

	regions := make([]Region, e820Count)
	for i := 0; i < int(e820Count); i++ {
		off := i * regionSize
		regions[i] = Region{
			Base:   binary.LittleEndian.Uint64(body[off : off+8]),
			Length: binary.LittleEndian.Uint64(body[off+8 : off+16]),
			Type:   RegionType(binary.LittleEndian.Uint32(body[off+16 : off+20])),
			Attrs:  binary.LittleEndian.Uint32(body[off+20 : off+24]),
		}
	}

	return &Descriptor{
		TotalMemoryMB: totalMB,
		SecureBase:    secureBase,
		HeapBase:      heapBase,
		HeapSize:      heapSize,
		Regions:       regions,
	}, nil
}

// Encode is the inverse of Decode, used by tests and by any in-process
// boot-descriptor producer (e.g. a hosted loader simulating e820).
func Encode(d *Descriptor) []byte {
	out := make([]byte, 8+headerSize+len(d.Regions)*regionSize)
	binary.LittleEndian.PutUint64(out[0:8], Magic)
	rest := out[8:]
	binary.LittleEndian.PutUint16(rest[0:2], uint16(len(d.Regions)))
	binary.LittleEndian.PutUint32(rest[4:8], d.TotalMemoryMB)
	binary.LittleEndian.PutUint64(rest[8:16], d.SecureBase)
	binary.LittleEndian.PutUint64(rest[16:24], d.HeapBase)
	binary.LittleEndian.PutUint64(rest[24:32], d.HeapSize)

	body := rest[headerSize:]
	for i, r := range d.Regions {
		off := i * regionSize
		binary.LittleEndian.PutUint64(body[off:off+8], r.Base)
		binary.LittleEndian.PutUint64(body[off+8:off+16], r.Length)
		binary.LittleEndian.PutUint32(body[off+16:off+20], uint32(r.Type))
		binary.LittleEndian.PutUint32(body[off+20:off+24], r.Attrs)
	}
	return out
}

// Fallback returns the degraded-mode descriptor used when Decode fails:
// a single conservative usable region, matching spec.md §6's
// "continues in degraded mode using fallback constants."
func Fallback() *Descriptor {
	const fallbackMemMB = 64
	const fallbackBase = 1 << 20 // 1 MiB, just past the legacy BIOS area
	const fallbackLen = fallbackMemMB<<20 - fallbackBase
	return &Descriptor{
		TotalMemoryMB: fallbackMemMB,
		SecureBase:    0,
		HeapBase:      0,
		HeapSize:      0,
		Regions: []Region{
			{Base: fallbackBase, Length: fallbackLen, Type: RegionUsable},
		},
	}
}
