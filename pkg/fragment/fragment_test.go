package fragment

import (
	"bytes"
	"log"
	"math/rand"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skymesh/pkg/routing"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

func TestSplit(t *testing.T) {
	cases := []struct {
		size      int
		fragments int
		lastSize  int
	}{
		{0, 1, 0},
		{1, 1, 1},
		{routing.FragmentSize, 1, routing.FragmentSize},
		{routing.FragmentSize + 1, 2, 1},
		{3*routing.FragmentSize - 5, 3, routing.FragmentSize - 5},
	}

	for _, tc := range cases {
		frags := Split(bytes.Repeat([]byte{'x'}, tc.size))
		require.Len(t, frags, tc.fragments, "size %d", tc.size)
		for i, f := range frags {
			assert.Equal(t, uint64(i), f.Index)
			assert.Equal(t, uint64(tc.fragments), f.Total)
		}
		assert.Len(t, frags[len(frags)-1].Data, tc.lastSize)
	}
}

func TestRoundTripInterleaved(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	a := NewAssembler(0, nil)

	type item struct {
		session routing.SessionID
		frag    routing.Fragment
	}

	payloads := make(map[routing.SessionID][]byte)
	var items []item
	for n := 0; n <= 4*routing.FragmentSize+3; n += 37 {
		sid := routing.SessionID(n + 1)
		p := make([]byte, n)
		rnd.Read(p)
		payloads[sid] = p
		for _, f := range Split(p) {
			items = append(items, item{sid, f})
		}
	}
	rnd.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	got := make(map[routing.SessionID][]byte)
	completions := make(map[routing.SessionID]int)
	for _, it := range items {
		if p, ok := a.Add(it.frag, it.session, 1); ok {
			got[it.session] = p
			completions[it.session]++
		}
	}

	require.Len(t, got, len(payloads))
	for sid, p := range payloads {
		assert.Equal(t, 1, completions[sid], "session %d", sid)
		assert.True(t, bytes.Equal(p, got[sid]), "session %d", sid)
	}
	assert.Equal(t, 0, a.Pending())
}

func TestAssemblerKeysByOrigin(t *testing.T) {
	a := NewAssembler(0, nil)
	fa := Split(bytes.Repeat([]byte{'a'}, routing.FragmentSize+1))
	fb := Split(bytes.Repeat([]byte{'b'}, routing.FragmentSize+1))

	_, ok := a.Add(fa[0], 1, 10)
	assert.False(t, ok)
	_, ok = a.Add(fb[0], 1, 20)
	assert.False(t, ok)
	assert.Equal(t, 2, a.Pending())

	p, ok := a.Add(fb[1], 1, 20)
	require.True(t, ok)
	assert.Equal(t, byte('b'), p[0])

	p, ok = a.Add(fa[1], 1, 10)
	require.True(t, ok)
	assert.Equal(t, byte('a'), p[0])
}

func TestAssemblerIdempotent(t *testing.T) {
	a := NewAssembler(0, nil)
	payload := bytes.Repeat([]byte("0123456789"), 40)
	frags := Split(payload)
	require.Len(t, frags, 4)

	for i := 0; i < 3; i++ {
		_, ok := a.Add(frags[0], 5, 1)
		assert.False(t, ok)
	}
	_, ok := a.Add(frags[2], 5, 1)
	assert.False(t, ok)
	_, ok = a.Add(frags[1], 5, 1)
	assert.False(t, ok)
	_, ok = a.Add(frags[2], 5, 1)
	assert.False(t, ok)

	p, ok := a.Add(frags[3], 5, 1)
	require.True(t, ok)
	assert.Equal(t, payload, p)

	// Late duplicates of a completed session are neither buffered nor
	// delivered again.
	for _, f := range frags {
		assert.NoError(t, a.Validate(f, 5, 1))
		_, ok = a.Add(f, 5, 1)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, a.Pending())
}

func TestAssemblerSingleFragmentDuplicate(t *testing.T) {
	a := NewAssembler(0, nil)
	frag := routing.Fragment{Index: 0, Total: 1, Data: []byte("hi")}

	p, ok := a.Add(frag, 9, 2)
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), p)

	_, ok = a.Add(frag, 9, 2)
	assert.False(t, ok)

	// Same session from another origin is a different message.
	_, ok = a.Add(frag, 9, 3)
	assert.True(t, ok)
}

func TestAssemblerRejectsMalformed(t *testing.T) {
	a := NewAssembler(0, nil)

	cases := []routing.Fragment{
		{Index: 2, Total: 2},
		{Index: 0, Total: 0},
		{Index: 0, Total: 1 << 62},
		{Index: MaxFragments, Total: MaxFragments + 1},
	}
	for _, frag := range cases {
		assert.Equal(t, ErrOutOfRange, errors.Cause(a.Validate(frag, 1, 1)), "%d/%d", frag.Index, frag.Total)
		var ok bool
		require.NotPanics(t, func() { _, ok = a.Add(frag, 1, 1) })
		assert.False(t, ok)
	}
	assert.Equal(t, 0, a.Pending())

	_, ok := a.Add(routing.Fragment{Index: 0, Total: 2, Data: []byte("a")}, 1, 1)
	assert.False(t, ok)
	mismatch := routing.Fragment{Index: 1, Total: 3, Data: []byte("b")}
	assert.Equal(t, ErrTotalMismatch, errors.Cause(a.Validate(mismatch, 1, 1)))
	_, ok = a.Add(mismatch, 1, 1)
	assert.False(t, ok)

	p, ok := a.Add(routing.Fragment{Index: 1, Total: 2, Data: []byte("b")}, 1, 1)
	require.True(t, ok)
	assert.Equal(t, []byte("ab"), p)
}

func TestAssemblerEvictsLeastRecent(t *testing.T) {
	a := NewAssembler(2, nil)
	half := routing.Fragment{Index: 0, Total: 2, Data: []byte("x")}

	a.Add(half, 1, 1)
	a.Add(half, 2, 1)
	a.Add(routing.Fragment{Index: 0, Total: 2, Data: []byte("x")}, 1, 1) // touch session 1
	a.Add(half, 3, 1)

	assert.Equal(t, 2, a.Pending())

	_, ok := a.Add(routing.Fragment{Index: 1, Total: 2, Data: []byte("y")}, 1, 1)
	assert.True(t, ok, "session 1 was touched last and must survive")

	_, ok = a.Add(routing.Fragment{Index: 1, Total: 2, Data: []byte("y")}, 2, 1)
	assert.False(t, ok, "session 2 was evicted")
}
