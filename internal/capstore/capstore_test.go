package capstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelSlotHoldsAllBits(t *testing.T) {
	s := New()
	assert.True(t, s.Check(0, uint16(Admin)))
	assert.Equal(t, uint16(0xFFFF), s.Mask(0))
}

func TestCreateInheritsMinusGrantRevokeKernel(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, uint16(IORead)|uint16(IOWrite)))

	mask := s.Mask(1)
	assert.True(t, mask&uint16(IORead) != 0)
	assert.True(t, mask&uint16(IOWrite) != 0)
	assert.Zero(t, mask&uint16(KernelMode), "child must not inherit KERNEL_MODE")
	assert.Zero(t, mask&uint16(PermGrant), "child must not inherit PERM_GRANT")
	assert.Zero(t, mask&uint16(PermRevoke), "child must not inherit PERM_REVOKE")
}

func TestCreateRejectsParentWithoutTaskCreate(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, uint16(MsgSend)))
	// task 1 inherits TASK_CREATE from the kernel; strip it first
	require.NoError(t, s.Revoke(0, 1, uint16(TaskCreate)))
	err := s.Create(2, 1, 0)
	assert.Error(t, err)
}

func TestCreateRejectsDuplicateSlot(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, 0))
	err := s.Create(1, 0, 0)
	assert.Error(t, err)
}

func TestGrantRevokeRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, uint16(PermGrant)|uint16(PermRevoke)))
	// DEBUG is inherited from the kernel; clear it so the grant adds a new bit
	require.NoError(t, s.Revoke(0, 1, uint16(Debug)))

	before := s.Mask(1)
	require.NoError(t, s.Grant(1, 1, uint16(Debug)))
	assert.True(t, s.Check(1, uint16(Debug)))

	require.NoError(t, s.Revoke(1, 1, uint16(Debug)))
	assert.Equal(t, before, s.Mask(1), "grant then revoke of the same bit restores the original mask")
}

func TestGrantRejectsWithoutPermGrant(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, 0)) // no PERM_GRANT
	require.NoError(t, s.Create(2, 0, 0))

	err := s.Grant(1, 2, uint16(Debug))
	assert.Error(t, err)
}

func TestSlot0IsImmutableToGrantAndRevoke(t *testing.T) {
	s := New()
	assert.Error(t, s.Grant(0, 0, uint16(Debug)))
	assert.Error(t, s.Revoke(0, 0, uint16(Debug)))
}

func TestDestroyThenReuseSlot(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, 0))
	require.NoError(t, s.Destroy(1))
	assert.False(t, s.Check(1, 0))

	// the slot can be reused by a later Create
	require.NoError(t, s.Create(1, 0, uint16(MsgReceive)))
	assert.True(t, s.Check(1, uint16(MsgReceive)))
}

func TestDestroyRejectsTaskZero(t *testing.T) {
	s := New()
	assert.Error(t, s.Destroy(0))
}

func TestCheckKernelModeBypassesMaskComparison(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, uint16(KernelMode)))
	assert.True(t, s.Check(1, uint16(Admin)|uint16(Debug)), "KERNEL_MODE satisfies any requested bits")
}

func TestGrantedTimestampMonotonic(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(1, 0, uint16(PermGrant)))
	rec1, _ := s.Record(1)

	require.NoError(t, s.Grant(1, 1, uint16(Debug)))
	rec2, _ := s.Record(1)

	assert.Greater(t, rec2.GrantedTimestamp, rec1.GrantedTimestamp)
}

func TestOutOfRangeTaskIDsRejected(t *testing.T) {
	s := New()
	assert.Error(t, s.Create(MaxTasks, 0, 0))
	assert.Error(t, s.Create(-1, 0, 0))
	assert.False(t, s.Check(MaxTasks+1, 0))
}
