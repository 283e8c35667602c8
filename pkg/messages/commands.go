// Package messages defines the administrative boundary of a mesh node:
// the commands a simulation controller sends down and the events nodes
// report up.
package messages

import (
	"fmt"

	"github.com/skycoin/skymesh/pkg/routing"
)

// Command is an administrative command. The set is closed.
type Command interface {
	fmt.Stringer
	isCommand()
}

// AddSender attaches a link to a neighbour.
type AddSender struct {
	ID   routing.NodeID
	Link *routing.Link
}

// RemoveSender detaches the link to a neighbour.
type RemoveSender struct {
	ID routing.NodeID
}

// Shutdown terminates the node's event loop.
type Shutdown struct{}

// Crash makes a relay stop after draining its queue.
type Crash struct{}

// SetPacketDropRate changes the drop probability of a relay.
type SetPacketDropRate struct {
	PDR float64
}

func (AddSender) isCommand()         {}
func (RemoveSender) isCommand()      {}
func (Shutdown) isCommand()          {}
func (Crash) isCommand()             {}
func (SetPacketDropRate) isCommand() {}

func (c AddSender) String() string         { return fmt.Sprintf("add_sender(%s)", c.ID) }
func (c RemoveSender) String() string      { return fmt.Sprintf("remove_sender(%s)", c.ID) }
func (Shutdown) String() string            { return "shutdown" }
func (Crash) String() string               { return "crash" }
func (c SetPacketDropRate) String() string { return fmt.Sprintf("set_pdr(%.2f)", c.PDR) }
