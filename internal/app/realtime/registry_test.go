package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/pkg/errs"
)

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(4, false)

	prev, err := r.Register("alice", "c1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = r.Register("alice", "c1")
	require.NoError(t, err)
	assert.Empty(t, prev, "re-registering the same connection displaces nothing")

	prev, err = r.Register("alice", "c2")
	require.NoError(t, err)
	assert.Equal(t, "c1", prev)

	connID, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterStrict(t *testing.T) {
	r := NewRegistry(4, true)

	_, err := r.Register("alice", "c1")
	require.NoError(t, err)

	_, err = r.Register("alice", "c2")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrAlreadyConnected))

	connID, _ := r.Lookup("alice")
	assert.Equal(t, "c1", connID)
}

func TestRegistry_UnregisterOnlyOwner(t *testing.T) {
	r := NewRegistry(4, false)

	_, _ = r.Register("alice", "c1")
	_, _ = r.Register("alice", "c2")

	assert.False(t, r.Unregister("alice", "c1"), "a replaced connection must not remove its successor")
	connID, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)

	assert.True(t, r.Unregister("alice", "c2"))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)

	assert.False(t, r.Unregister("alice", "c2"))
	assert.False(t, r.Unregister("nobody", "c9"))
}

func TestRegistry_ConcurrentRegisterLeavesOneEntry(t *testing.T) {
	r := NewRegistry(8, false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Register("alice", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"alice"}, r.Users())
}

func TestRegistry_UsersSorted(t *testing.T) {
	r := NewRegistry(3, false)

	for _, u := range []string{"carol", "alice", "bob"} {
		_, err := r.Register(u, "conn-"+u)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Users())
}

func TestRegistry_AnnounceRunsOnlyOnChange(t *testing.T) {
	r := NewRegistry(4, false)

	var events []string
	announceOnline := func(prev string) { events = append(events, "online:"+prev) }

	_, err := r.RegisterFunc("alice", "c1", announceOnline)
	require.NoError(t, err)
	_, err = r.RegisterFunc("alice", "c1", announceOnline)
	require.NoError(t, err)
	_, err = r.RegisterFunc("alice", "c2", announceOnline)
	require.NoError(t, err)

	assert.False(t, r.UnregisterFunc("alice", "c1", func() { events = append(events, "offline:c1") }))
	assert.True(t, r.UnregisterFunc("alice", "c2", func() {
		assert.False(t, r.shard("alice").mu.TryRLock(), "the shard stays locked while announcing")
		events = append(events, "offline:c2")
	}))

	assert.Equal(t, []string{"online:", "online:c1", "offline:c2"}, events)
}
