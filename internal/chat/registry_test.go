package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_SnapshotFollowsJoinOrder(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("a", "alice")
	r.Register("b", "bob")

	snap := r.Snapshot()
	req.Len(snap, 2)
	req.Equal("alice", snap[0].Handle)
	req.Equal("bob", snap[1].Handle)
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("a", "alice")
	r.Deregister("a")
	r.Deregister("a")
	r.Deregister("never-registered")

	req.Zero(r.Len())
	req.Empty(r.Snapshot())
}

func TestRegistry_DuplicateHandlesPermitted(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("a", "alice")
	r.Register("b", "alice")

	req.Equal(2, r.Len())
	snap := r.Snapshot()
	req.Equal("alice", snap[0].Handle)
	req.Equal("alice", snap[1].Handle)
}

func TestRegistry_HandlesExcludesSelf(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("a", "alice")
	r.Register("b", "bob")

	req.Equal([]string{"bob"}, r.Handles("a"))
	req.Equal([]string{"alice", "bob"}, r.Handles("c"))
	req.Empty(NewRegistry().Handles("a"))
}

func TestRegistry_ReregisterReplacesHandle(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("a", "alice")
	r.Register("a", "alicia")

	req.Equal(1, r.Len())
	req.Equal("alicia", r.Snapshot()[0].Handle)
}
