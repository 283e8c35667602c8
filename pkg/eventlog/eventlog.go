// Package eventlog stores the events reported by mesh nodes so that they
// can be queried after the fact.
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
)

// Entry is one stored event.
type Entry struct {
	Time time.Time       `json:"time"`
	Node routing.NodeID  `json:"node"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"event"`
}

// NewEntry encodes an event envelope.
func NewEntry(env messages.Envelope) (Entry, error) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "failed to encode %s event", env.Event.Kind())
	}
	return Entry{Time: env.Time, Node: env.Node, Kind: env.Event.Kind(), Data: data}, nil
}

// Store keeps entries in insertion order.
type Store interface {
	// Append saves an entry.
	Append(e Entry) error

	// Since returns the entries recorded strictly after t, oldest first.
	// The zero time returns every entry.
	Since(t time.Time) ([]Entry, error)

	Close() error
}

// New returns a Store of the given kind: "memory" or "boltdb".
func New(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "boltdb":
		return NewBoltDB(path)
	default:
		return nil, errors.Errorf("no event store of type %s", kind)
	}
}
