package sched

import (
	"unsafe"
)

// MaxTasks is the fixed arena size, per spec.md §6.
const MaxTasks = 64

// StackSize is the fixed per-task stack size, per spec.md §6.
const StackSize = 4 * 1024

// Allocator is the subset of internal/buddy.Heap the scheduler needs to
// carve task stacks from the kernel heap.
type Allocator interface {
	Alloc(size int) []byte
	Free(block []byte)
}

// quantumTable maps the top 3 bits of priority (priority>>5, 0-7) to a
// millisecond budget: smallest (1ms) for real-time-range priorities,
// largest (200ms) for the idle bucket, per spec.md §4.E.
var quantumTable = [8]int{1, 5, 10, 20, 40, 80, 140, 200}

func quantumForPriority(priority uint8) int {
	return quantumTable[priority>>5]
}

// permissionBaseline returns the baseline permission mask installed by
// uid (spec.md §4.E); the concrete bit values live in internal/capstore
// but are mirrored here as plain uint16 literals to avoid an import
// cycle, matching internal/capstore's own constants exactly.
func permissionBaseline(uid UID) uint16 {
	switch uid {
	case Kernel:
		return 0xFFFF
	case Root:
		return 0xFFFF &^ (1 << 12) // all bits except KERNEL_MODE (bit 12)
	default: // User
		return (1 << 2) | (1 << 3) | (1 << 4) | (1 << 5) | (1 << 13) // IO_READ|IO_WRITE|MSG_SEND|MSG_RECEIVE|SHELL_ACCESS
	}
}

// Scheduler owns the fixed task arena and the single circular list.
type Scheduler struct {
	tasks   [MaxTasks]Task
	current int
	locked  bool // re-entrance lock: set for the duration of Dispatch

	alloc Allocator
}

// New creates a Scheduler with pid 0 as the permanently-resident idle
// task (spec.md §3: "pid 0 is the idle task and never terminates").
func New(alloc Allocator) *Scheduler {
	s := &Scheduler{alloc: alloc, current: 0}
	idle := &s.tasks[0]
	idle.PID = 0
	idle.State = Ready
	idle.UID = Kernel
	idle.Priority = 0xFF // idle bucket: largest quantum, lowest precedence
	idle.BaseQuantum = quantumForPriority(idle.Priority)
	idle.QuantumRemaining = idle.BaseQuantum
	idle.PermissionMask = permissionBaseline(Kernel)
	idle.next = 0
	idle.inUse = true
	return s
}

// Task returns a copy of the task record for pid, or false if the slot
// is not in use.
func (s *Scheduler) Task(pid int) (Task, bool) {
	if pid < 0 || pid >= MaxTasks || !s.tasks[pid].inUse {
		return Task{}, false
	}
	return s.tasks[pid], true
}

// Current returns the currently-selected pid.
func (s *Scheduler) Current() int { return s.current }

// Create allocates a task record and stack, links it into the circular
// list, and returns its pid. Per spec.md §4.E: a null entry point is
// rejected, and an allocation failure frees whatever was half-built.
func (s *Scheduler) Create(entry uint64, priority uint8, uid UID) (int, error) {
	if entry == 0 {
		return -1, errNullEntry
	}

	pid := -1
	for i := 1; i < MaxTasks; i++ {
		if !s.tasks[i].inUse {
			pid = i
			break
		}
	}
	if pid == -1 {
		return -1, errNoTaskSlots
	}

	stack := s.alloc.Alloc(StackSize)
	if stack == nil {
		return -1, errStackAlloc
	}
	stampCanary(stack)

	t := &s.tasks[pid]
	*t = Task{
		PID:              pid,
		State:            Ready,
		UID:              uid,
		Priority:         priority,
		BaseQuantum:      quantumForPriority(priority),
		QuantumRemaining: quantumForPriority(priority),
		PermissionMask:   permissionBaseline(uid),
		InitialFrame:     initialFrame(entry),
		stack:            stack,
		inUse:            true,
	}
	t.StackBase = uint64(uintptr(unsafe.Pointer(&stack[0])))
	t.SavedSP = t.StackBase + uint64(len(stack))

	s.linkAfter(s.current, pid)
	return pid, nil
}

// linkAfter splices pid into the circular list immediately after
// after's current position.
func (s *Scheduler) linkAfter(after, pid int) {
	s.tasks[pid].next = s.tasks[after].next
	s.tasks[after].next = pid
}

// unlink removes pid from the circular list, patching the predecessor's
// next pointer. pid 0 (idle) is never unlinked.
func (s *Scheduler) unlink(pid int) {
	if pid == 0 {
		return
	}
	prev := pid
	for s.tasks[prev].next != pid {
		prev = s.tasks[prev].next
	}
	s.tasks[prev].next = s.tasks[pid].next
}

func stampCanary(stack []byte) {
	putU64(stack, 0, StackCanary)
}

func canaryIntact(stack []byte) bool {
	return len(stack) >= 8 && getU64(stack, 0) == StackCanary
}

func putU64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}

// Dispatch runs one scheduler step, called from the timer IRQ with the
// interrupted task's saved stack pointer, per spec.md §4.E:
//
//  1. a held re-entrance lock returns the SP unchanged;
//  2. persist the current task's SP/CPU-time, check its canary;
//  3. decrement its quantum;
//  4. wake due sleepers, pick the smallest-priority Ready/Running task;
//  5. keep the current task if it still has quantum and priority
//     precedence;
//  6. otherwise switch to the winner.
//
// Returns the saved SP of whichever task should now run.
func (s *Scheduler) Dispatch(nowMS int64, interruptedSP uint64) uint64 {
	if s.locked {
		return interruptedSP
	}
	s.locked = true
	defer func() { s.locked = false }()

	cur := &s.tasks[s.current]
	cur.SavedSP = interruptedSP
	cur.CPUTimeMS++

	if cur.stack != nil && !canaryIntact(cur.stack) {
		panic(StackOverflowError{PID: cur.PID})
	}

	if cur.QuantumRemaining > 0 {
		cur.QuantumRemaining--
	}

	winner := s.pickWinner(nowMS)

	if cur.State == Running && cur.QuantumRemaining > 0 && cur.Priority <= s.tasks[winner].Priority {
		return cur.SavedSP
	}

	if cur.State == Running {
		cur.State = Ready
	}
	w := &s.tasks[winner]
	w.State = Running
	w.QuantumRemaining = w.BaseQuantum
	s.current = winner
	return w.SavedSP
}

// pickWinner traverses the list once starting at current.next, waking
// any due sleeper along the way, and returns the pid of the
// Ready-or-Running task with the numerically smallest priority
// (earliest traversal order wins ties).
func (s *Scheduler) pickWinner(nowMS int64) int {
	winner := -1
	var winnerPriority uint8

	pid := s.current
	for {
		pid = s.tasks[pid].next
		t := &s.tasks[pid]
		if t.State == Sleeping && t.SleepDeadlineMS <= nowMS {
			t.State = Ready
			t.QuantumRemaining = t.BaseQuantum
		}
		if t.State == Ready || t.State == Running {
			if winner == -1 || t.Priority < winnerPriority {
				winner = pid
				winnerPriority = t.Priority
			}
		}
		if pid == s.current {
			break
		}
	}
	if winner == -1 {
		winner = 0 // idle is always eligible
	}
	return winner
}

// Yield forces an immediate switch by re-running Dispatch with the
// current SP and zero quantum remaining — the effect a real kernel
// gets by raising the scheduler's software interrupt.
func (s *Scheduler) Yield(nowMS int64) uint64 {
	s.tasks[s.current].QuantumRemaining = 0
	return s.Dispatch(nowMS, s.tasks[s.current].SavedSP)
}

// Sleep marks the current task Sleeping until nowMS+ms and yields.
func (s *Scheduler) Sleep(nowMS int64, ms int64) uint64 {
	cur := &s.tasks[s.current]
	cur.State = Sleeping
	cur.SleepDeadlineMS = nowMS + ms
	return s.Yield(nowMS)
}

// Exit marks the current task Terminated, yields (pickWinner never
// selects a Terminated task), and then reaps it at once: the task is
// unlinked from the list and its stack freed before Exit returns.
func (s *Scheduler) Exit(nowMS int64) uint64 {
	pid := s.current
	if pid == 0 {
		// the idle task never terminates, per spec.md §3.
		return s.Yield(nowMS)
	}
	cur := &s.tasks[pid]
	cur.State = Terminated
	sp := s.Yield(nowMS)
	s.reap(pid)
	return sp
}

// Kill forcibly terminates pid without going through Dispatch/Yield —
// used to unwind a task whose creation partially failed in a later
// init step (e.g. capability seeding) before it was ever scheduled.
// The idle task cannot be killed.
func (s *Scheduler) Kill(pid int) {
	if pid <= 0 || pid >= MaxTasks || !s.tasks[pid].inUse {
		return
	}
	s.tasks[pid].State = Terminated
	s.reap(pid)
}

// reap frees a terminated task's stack and removes it from the list.
func (s *Scheduler) reap(pid int) {
	t := &s.tasks[pid]
	if t.State != Terminated {
		return
	}
	s.unlink(pid)
	if s.alloc != nil && t.stack != nil {
		s.alloc.Free(t.stack)
	}
	*t = Task{}
}

var (
	errNullEntry   = schedError("sched: entry point must be non-zero")
	errNoTaskSlots = schedError("sched: no free task slots")
	errStackAlloc  = schedError("sched: stack allocation failed")
)

type schedError string

func (e schedError) Error() string { return string(e) }
