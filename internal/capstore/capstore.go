// Package capstore implements the kernel's capability store: a flat,
// task-id-indexed table of 16-bit rights masks with grant/revoke/
// inherit rules and a check primitive, per spec.md §4.F.
//
// Grounded on the teacher's unsafex/malloc.BitmapAllocator: that package
// tracks block occupancy with math/bits-driven bitmask arithmetic over
// a byte array; this package applies the same bit-twiddling idiom (OR
// to install/grant, AND-NOT to clear/revoke, AND to test) to a 16-bit
// per-task rights mask instead of a block-occupancy bitmap.
package capstore

import "fmt"

// Bit is one of the 16 defined capability bits (spec.md §4.F).
type Bit uint16

const (
	MemoryAlloc Bit = 1 << iota
	MemoryFree
	IORead
	IOWrite
	MsgSend
	MsgReceive
	IRQInstall
	IRQRemove
	TaskCreate
	TaskDestroy
	PermGrant
	PermRevoke
	KernelMode
	ShellAccess
	Debug
	Admin
)

// maskedOnInherit is ORed out of the parent's mask when a child inherits
// it at creation — spec.md §4.F: "ORs in the parent's permissions with
// three bits masked off: grant, revoke, kernel-mode."
const maskedOnInherit = PermGrant | PermRevoke | KernelMode

// MaxTasks bounds the table the same way it bounds the scheduler's
// task arena (spec.md §6).
const MaxTasks = 64

// Record is one capability slot.
type Record struct {
	TaskID            int
	Capabilities      uint16
	ParentID          int
	GrantedTimestamp  uint64
	Active            bool
}

// Store is the flat capability table.
type Store struct {
	records [MaxTasks]Record
	clock   uint64
}

// New initializes the store with every slot inactive except slot 0
// (the kernel), which holds all bits active — spec.md §4.F.
func New() *Store {
	s := &Store{}
	s.records[0] = Record{TaskID: 0, Capabilities: 0xFFFF, Active: true}
	s.clock = 1
	return s
}

func (s *Store) bump() uint64 {
	s.clock++
	return s.clock
}

// Create installs a child slot inheriting from parent, per spec.md
// §4.F: the parent must hold TASK_CREATE, the child slot must be free,
// and both ids must be in range.
func (s *Store) Create(child, parent int, initialPerms uint16) error {
	if !inRange(child) || !inRange(parent) {
		return fmt.Errorf("capstore: task id out of range (child=%d parent=%d)", child, parent)
	}
	if child == 0 && parent != 0 {
		return fmt.Errorf("capstore: only the kernel may hold task id 0")
	}
	if !s.records[parent].Active || s.records[parent].Capabilities&uint16(TaskCreate) == 0 {
		return fmt.Errorf("capstore: parent %d lacks TASK_CREATE", parent)
	}
	if s.records[child].Active {
		return fmt.Errorf("capstore: task id %d already active", child)
	}

	inherited := s.records[parent].Capabilities &^ uint16(maskedOnInherit)
	s.records[child] = Record{
		TaskID:           child,
		Capabilities:     initialPerms | inherited,
		ParentID:         parent,
		Active:           true,
		GrantedTimestamp: s.bump(),
	}
	return nil
}

// Destroy deactivates a slot. Task 0 can never be destroyed.
func (s *Store) Destroy(task int) error {
	if task == 0 {
		return fmt.Errorf("capstore: task 0 cannot be destroyed")
	}
	if !inRange(task) {
		return fmt.Errorf("capstore: task id out of range (%d)", task)
	}
	s.records[task].Active = false
	s.records[task].GrantedTimestamp = s.bump()
	return nil
}

// Grant ORs bits into t's mask; g must hold PERM_GRANT and t must be
// active. Slot 0's kernel-mode bit is never touched by grant/revoke
// (it is already set and immutable).
func (s *Store) Grant(g, t int, bits uint16) error {
	if !inRange(g) || !inRange(t) {
		return fmt.Errorf("capstore: task id out of range (g=%d t=%d)", g, t)
	}
	if s.records[g].Capabilities&uint16(PermGrant) == 0 {
		return fmt.Errorf("capstore: %d lacks PERM_GRANT", g)
	}
	if !s.records[t].Active {
		return fmt.Errorf("capstore: task %d is not active", t)
	}
	if t == 0 {
		return fmt.Errorf("capstore: slot 0 is immutable")
	}
	s.records[t].Capabilities |= bits
	s.records[t].GrantedTimestamp = s.bump()
	return nil
}

// Revoke clears bits from t's mask; r must hold PERM_REVOKE, t must not
// be 0, and t must be active.
func (s *Store) Revoke(r, t int, bits uint16) error {
	if !inRange(r) || !inRange(t) {
		return fmt.Errorf("capstore: task id out of range (r=%d t=%d)", r, t)
	}
	if t == 0 {
		return fmt.Errorf("capstore: slot 0 is immutable")
	}
	if s.records[r].Capabilities&uint16(PermRevoke) == 0 {
		return fmt.Errorf("capstore: %d lacks PERM_REVOKE", r)
	}
	if !s.records[t].Active {
		return fmt.Errorf("capstore: task %d is not active", t)
	}
	s.records[t].Capabilities &^= bits
	s.records[t].GrantedTimestamp = s.bump()
	return nil
}

// Check returns true when task is active and either holds KERNEL_MODE
// or holds every bit set in want.
func (s *Store) Check(task int, want uint16) bool {
	if !inRange(task) || !s.records[task].Active {
		return false
	}
	caps := s.records[task].Capabilities
	if caps&uint16(KernelMode) != 0 {
		return true
	}
	return caps&want == want
}

// Mask returns the current capability mask for task, or 0 if inactive.
func (s *Store) Mask(task int) uint16 {
	if !inRange(task) || !s.records[task].Active {
		return 0
	}
	return s.records[task].Capabilities
}

// Record returns a copy of the full record for task.
func (s *Store) Record(task int) (Record, bool) {
	if !inRange(task) {
		return Record{}, false
	}
	return s.records[task], true
}

func inRange(task int) bool { return task >= 0 && task < MaxTasks }
