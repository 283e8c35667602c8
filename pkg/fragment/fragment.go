// Package fragment splits payloads into fixed-size fragments and
// reassembles them on the receiving side.
package fragment

import (
	"github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skymesh/pkg/routing"
)

// DefaultMaxBuffers bounds the number of in-progress reassemblies kept by
// an Assembler.
const DefaultMaxBuffers = 1024

// MaxFragments bounds the fragment count of a single message, which caps a
// message at MaxFragments*routing.FragmentSize bytes.
const MaxFragments = 1 << 16

// Split cuts payload into routing.FragmentSize chunks. An empty payload
// yields exactly one empty fragment.
func Split(payload []byte) []routing.Fragment {
	total := (len(payload) + routing.FragmentSize - 1) / routing.FragmentSize
	if total == 0 {
		total = 1
	}

	frags := make([]routing.Fragment, total)
	for i := 0; i < total; i++ {
		start := i * routing.FragmentSize
		end := start + routing.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		data := make([]byte, end-start)
		copy(data, payload[start:end])

		frags[i] = routing.Fragment{
			Index: uint64(i),
			Total: uint64(total),
			Data:  data,
		}
	}
	return frags
}

var (
	// ErrOutOfRange is returned for fragments whose index or total cannot
	// belong to a message.
	ErrOutOfRange = errors.New("fragment index out of range")
	// ErrTotalMismatch is returned when a fragment disagrees with the total
	// recorded for its session.
	ErrTotalMismatch = errors.New("fragment total mismatch")
)

type bufferKey struct {
	session routing.SessionID
	origin  routing.NodeID
}

type buffer struct {
	total    uint64
	received uint64
	chunks   map[uint64][]byte
}

func (b *buffer) payload() []byte {
	size := 0
	for _, c := range b.chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for i := uint64(0); i < b.total; i++ {
		out = append(out, b.chunks[i]...)
	}
	return out
}

// Assembler collects fragments keyed by (session, origin) until a message is
// complete. It is not thread-safe; the owning router serialises access.
type Assembler struct {
	log     *logging.Logger
	buffers *lru.Cache
	done    *lru.Cache // recently completed keys
}

// NewAssembler creates an Assembler holding at most maxBuffers incomplete
// messages; the least recently touched one is evicted first. As many
// completed sessions are remembered so late duplicates are not delivered
// twice.
func NewAssembler(maxBuffers int, log *logging.Logger) *Assembler {
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxBuffers
	}
	if log == nil {
		log = logging.MustGetLogger("fragment")
	}

	a := &Assembler{log: log}
	onEvict := func(key, value interface{}) {
		k := key.(bufferKey)
		b := value.(*buffer)
		if b.received == b.total {
			return
		}
		a.log.Warnf("Evicted incomplete message session=%d origin=%s (%d/%d fragments)",
			k.session, k.origin, b.received, b.total)
	}

	// lru only fails on a non-positive size, excluded above.
	cache, err := lru.NewWithEvict(maxBuffers, onEvict)
	if err != nil {
		panic(err)
	}
	done, err := lru.New(maxBuffers)
	if err != nil {
		panic(err)
	}
	a.buffers = cache
	a.done = done
	return a
}

// Validate reports whether frag could be stored for the given session
// without reading it into a buffer. Fragments of recently completed sessions
// are valid; Add ignores them.
func (a *Assembler) Validate(frag routing.Fragment, session routing.SessionID, origin routing.NodeID) error {
	if frag.Total == 0 || frag.Total > MaxFragments || frag.Index >= frag.Total {
		a.log.Warnf("Discarding fragment %d/%d of session=%d origin=%s: index out of range",
			frag.Index, frag.Total, session, origin)
		return errors.Wrapf(ErrOutOfRange, "%d/%d", frag.Index, frag.Total)
	}

	v, ok := a.buffers.Peek(bufferKey{session: session, origin: origin})
	if !ok {
		return nil
	}
	if total := v.(*buffer).total; total != frag.Total {
		a.log.Warnf("Discarding fragment of session=%d origin=%s: total %d does not match %d",
			session, origin, frag.Total, total)
		return errors.Wrapf(ErrTotalMismatch, "%d != %d", frag.Total, total)
	}
	return nil
}

// Add stores frag and returns the complete payload once every index of the
// session has been seen. Duplicated indices overwrite the stored chunk.
func (a *Assembler) Add(frag routing.Fragment, session routing.SessionID, origin routing.NodeID) ([]byte, bool) {
	if err := a.Validate(frag, session, origin); err != nil {
		return nil, false
	}

	key := bufferKey{session: session, origin: origin}
	if a.done.Contains(key) {
		a.log.Debugf("Ignored fragment %d of completed session=%d origin=%s", frag.Index, session, origin)
		return nil, false
	}

	var b *buffer
	if v, ok := a.buffers.Get(key); ok {
		b = v.(*buffer)
	} else {
		b = &buffer{total: frag.Total, chunks: make(map[uint64][]byte)}
		a.buffers.Add(key, b)
	}

	if _, ok := b.chunks[frag.Index]; !ok {
		b.received++
	}
	data := make([]byte, len(frag.Data))
	copy(data, frag.Data)
	b.chunks[frag.Index] = data

	if b.received < b.total {
		return nil, false
	}

	a.buffers.Remove(key)
	a.done.Add(key, struct{}{})
	return b.payload(), true
}

// Pending returns the number of incomplete messages held.
func (a *Assembler) Pending() int {
	return a.buffers.Len()
}
