package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReturnsDisplaced(t *testing.T) {
	r := New()

	first := NewClusterConnection("cl-1", "org-1", "v1.0.0")
	assert.Nil(t, r.Register(first))

	second := NewClusterConnection("cl-1", "org-1", "v1.0.1")
	prev := r.Register(second)
	require.NotNil(t, prev)
	assert.Same(t, first, prev)
	assert.Same(t, second, r.Get("cl-1"))
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterHandleIdentity(t *testing.T) {
	r := New()

	first := NewClusterConnection("cl-1", "org-1", "v1.0.0")
	r.Register(first)
	second := NewClusterConnection("cl-1", "org-1", "v1.0.0")
	r.Register(second)

	// The displaced session tearing down late must not remove its
	// replacement.
	assert.False(t, r.Unregister(first))
	assert.Same(t, second, r.Get("cl-1"))

	assert.True(t, r.Unregister(second))
	assert.Nil(t, r.Get("cl-1"))
	assert.Equal(t, 0, r.Len())
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	conn := NewClusterConnection("cl-1", "org-1", "v1.0.0")
	initial := conn.LastSeen()

	later := time.Now().Add(time.Minute)
	conn.Touch(later)
	assert.True(t, conn.LastSeen().After(initial))
	assert.Equal(t, later, conn.LastSeen())
}

func TestRequestDetachIdempotent(t *testing.T) {
	conn := NewClusterConnection("cl-1", "org-1", "v1.0.0")

	conn.RequestDetach()
	conn.RequestDetach()

	select {
	case <-conn.Detach:
	default:
		t.Fatal("detach channel not closed")
	}
}

func TestSnapshot(t *testing.T) {
	r := New()
	r.Register(NewClusterConnection("cl-1", "org-1", "v1.0.0"))
	r.Register(NewClusterConnection("cl-2", "org-2", "v1.0.0"))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	ids := map[string]bool{}
	for _, conn := range snap {
		ids[conn.ClusterID] = true
	}
	assert.True(t, ids["cl-1"])
	assert.True(t, ids["cl-2"])
}
