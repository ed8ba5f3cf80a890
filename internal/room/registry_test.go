package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom(t *testing.T) {
	r := NewRegistry(Options{})

	snap, err := r.Create("jam1")
	require.NoError(t, err)
	assert.Equal(t, "jam1", snap.RoomID)
	assert.Empty(t, snap.Members)
	assert.Equal(t, []Summary{{RoomName: "jam1", NumPeople: 0, Instruments: []string{}}}, snap.Directory)
}

func TestCreateRoomTwiceFails(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.Create("r")
	require.NoError(t, err)
	_, err = r.Join("r", "a")
	require.NoError(t, err)
	before := r.Directory()

	_, err = r.Create("r")
	require.ErrorIs(t, err, ErrRoomAlreadyExists)
	assert.Equal(t, before, r.Directory())

	members, ok := r.Members("r")
	require.True(t, ok)
	assert.Equal(t, []Member{{PeerID: "a", Instrument: "piano"}}, members)
}

func TestCreateRoomRejectsEmptyID(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Create("")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
	assert.Equal(t, 0, r.Len())
}

func TestJoinUnknownRoom(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Join("nope", "a")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, ok := r.RoomOf("a")
	assert.False(t, ok)
}

func TestJoinAppendsInOrder(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Create("jam1")
	require.NoError(t, err)

	snap, err := r.Join("jam1", "A")
	require.NoError(t, err)
	assert.Equal(t, []Member{{PeerID: "A", Instrument: "piano"}}, snap.Members)

	snap, err = r.Join("jam1", "B")
	require.NoError(t, err)
	assert.Equal(t, []Member{
		{PeerID: "A", Instrument: "piano"},
		{PeerID: "B", Instrument: "piano"},
	}, snap.Members)
	assert.Equal(t, 2, snap.Directory[0].NumPeople)
}

func TestJoinFullRoom(t *testing.T) {
	r := NewRegistry(Options{})
	_, err := r.Create("full")
	require.NoError(t, err)

	for i := 0; i < DefaultCapacity; i++ {
		_, err := r.Join("full", fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	before, _ := r.Members("full")

	_, err = r.Join("full", "p5")
	require.ErrorIs(t, err, ErrRoomFull)

	after, _ := r.Members("full")
	assert.Equal(t, before, after)
	_, ok := r.RoomOf("p5")
	assert.False(t, ok)
}

func TestJoinWhileInAnotherRoom(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("one")
	_, _ = r.Create("two")

	_, err := r.Join("one", "a")
	require.NoError(t, err)

	snap, err := r.Join("two", "a")
	require.ErrorIs(t, err, ErrAlreadyInRoom)
	assert.Equal(t, "one", snap.RoomID)

	_, err = r.Join("one", "a")
	require.ErrorIs(t, err, ErrAlreadyInRoom)

	members, _ := r.Members("one")
	assert.Len(t, members, 1)
	members, _ = r.Members("two")
	assert.Empty(t, members)
}

func TestLeavePreservesOrder(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	for _, p := range []string{"A", "B", "C"} {
		_, err := r.Join("jam", p)
		require.NoError(t, err)
	}

	snap, err := r.Leave("jam", "B")
	require.NoError(t, err)
	assert.Equal(t, []Member{
		{PeerID: "A", Instrument: "piano"},
		{PeerID: "C", Instrument: "piano"},
	}, snap.Members)
	assert.False(t, snap.Removed)

	_, ok := r.RoomOf("B")
	assert.False(t, ok)
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	_, _ = r.Join("jam", "A")

	_, err := r.Leave("missing", "A")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = r.Leave("jam", "Z")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	members, _ := r.Members("jam")
	assert.Equal(t, []Member{{PeerID: "A", Instrument: "piano"}}, members)
}

func TestLeaveKeepsEmptyRoomByDefault(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	_, _ = r.Join("jam", "A")

	snap, err := r.Leave("jam", "A")
	require.NoError(t, err)
	assert.False(t, snap.Removed)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []Summary{{RoomName: "jam", NumPeople: 0, Instruments: []string{}}}, snap.Directory)
}

func TestLeaveReapsEmptyRoom(t *testing.T) {
	r := NewRegistry(Options{ReapEmpty: true})
	_, _ = r.Create("a")
	_, _ = r.Create("b")
	_, _ = r.Join("a", "p1")

	snap, err := r.Leave("a", "p1")
	require.NoError(t, err)
	assert.True(t, snap.Removed)
	assert.Empty(t, snap.Members)
	assert.Equal(t, []Summary{{RoomName: "b", NumPeople: 0, Instruments: []string{}}}, snap.Directory)

	_, err = r.Create("a")
	assert.NoError(t, err)
}

func TestLeaveCurrent(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	_, _ = r.Join("jam", "A")
	_, _ = r.Join("jam", "B")

	snap, ok := r.LeaveCurrent("A")
	require.True(t, ok)
	assert.Equal(t, "jam", snap.RoomID)
	assert.Equal(t, []Member{{PeerID: "B", Instrument: "piano"}}, snap.Members)

	_, ok = r.LeaveCurrent("A")
	assert.False(t, ok)
}

func TestSelectInstrument(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam1")
	_, _ = r.Join("jam1", "A")
	_, _ = r.Join("jam1", "B")

	snap, err := r.SelectInstrument("jam1", "B", "drums")
	require.NoError(t, err)
	assert.Equal(t, []Member{
		{PeerID: "A", Instrument: "piano"},
		{PeerID: "B", Instrument: "drums"},
	}, snap.Members)
	assert.Equal(t, []string{"piano", "drums"}, snap.Directory[0].Instruments)

	_, err = r.SelectInstrument("jam1", "Z", "bass")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	_, err = r.SelectInstrument("nope", "A", "bass")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDirectoryKeepsCreationOrder(t *testing.T) {
	r := NewRegistry(Options{})
	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Create(id)
		require.NoError(t, err)
	}
	_, _ = r.Join("alpha", "x")

	dir := r.Directory()
	require.Len(t, dir, 3)
	assert.Equal(t, "zeta", dir[0].RoomName)
	assert.Equal(t, "alpha", dir[1].RoomName)
	assert.Equal(t, 1, dir[1].NumPeople)
	assert.Equal(t, "mid", dir[2].RoomName)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	snap, _ := r.Join("jam", "A")

	snap.Members[0].Instrument = "kazoo"
	members, _ := r.Members("jam")
	assert.Equal(t, "piano", members[0].Instrument)
}

func TestCustomOptions(t *testing.T) {
	r := NewRegistry(Options{Capacity: 2, DefaultInstrument: "bass"})
	assert.Equal(t, 2, r.Capacity())
	_, _ = r.Create("duo")

	snap, err := r.Join("duo", "a")
	require.NoError(t, err)
	assert.Equal(t, "bass", snap.Members[0].Instrument)
	_, _ = r.Join("duo", "b")
	_, err = r.Join("duo", "c")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestReset(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("jam")
	_, _ = r.Join("jam", "a")

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Directory())
	_, ok := r.RoomOf("a")
	assert.False(t, ok)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	r := NewRegistry(Options{})
	_, _ = r.Create("busy")

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Join("busy", fmt.Sprintf("peer-%d", i)); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, DefaultCapacity, joined)
	members, _ := r.Members("busy")
	assert.Len(t, members, DefaultCapacity)

	seen := make(map[string]bool)
	for _, m := range members {
		assert.False(t, seen[m.PeerID], "duplicate peer %s", m.PeerID)
		seen[m.PeerID] = true
	}
}

func TestConcurrentMutationsKeepInvariants(t *testing.T) {
	r := NewRegistry(Options{})
	rooms := []string{"a", "b", "c"}
	for _, id := range rooms {
		_, _ = r.Create(id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := fmt.Sprintf("p%d", i)
			id := rooms[i%len(rooms)]
			if _, err := r.Join(id, peer); err != nil {
				return
			}
			_, _ = r.SelectInstrument(id, peer, "drums")
			if i%2 == 0 {
				_, _ = r.Leave(id, peer)
			}
		}(i)
	}
	wg.Wait()

	for _, s := range r.Directory() {
		assert.LessOrEqual(t, s.NumPeople, DefaultCapacity)
		assert.Len(t, s.Instruments, s.NumPeople)
	}
}
