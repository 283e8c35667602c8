package routing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NodeID identifies a node within one simulated network.
type NodeID uint8

func (id NodeID) String() string {
	return fmt.Sprintf("%d", uint8(id))
}

// ParseNodeID parses a decimal node id.
func ParseNodeID(s string) (NodeID, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid node id %q", s)
	}
	return NodeID(v), nil
}

// MarshalJSON implements json.Marshaler. It keeps []NodeID encoded as a
// list of numbers rather than a byte string.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(id), 10), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *NodeID) UnmarshalJSON(b []byte) error {
	v, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NodeType describes the role a node plays in the mesh.
type NodeType byte

const (
	// Relay forwards packets and never acts as a message endpoint.
	Relay = NodeType(iota)
	// Client is an endpoint issuing requests.
	Client
	// Server is an endpoint answering requests.
	Server
)

func (t NodeType) String() string {
	switch t {
	case Relay:
		return "relay"
	case Client:
		return "client"
	case Server:
		return "server"
	}

	return fmt.Sprintf("unknown(%d)", byte(t))
}

// IsEndpoint reports whether nodes of type t may send and receive messages.
func (t NodeType) IsEndpoint() bool {
	return t == Client || t == Server
}

// MarshalText implements encoding.TextMarshaler.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *NodeType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "relay", "drone":
		*t = Relay
	case "client":
		*t = Client
	case "server":
		*t = Server
	default:
		return errors.Errorf("invalid node type %q", string(b))
	}
	return nil
}

// ServerType describes what a server node serves.
type ServerType byte

const (
	// ChatServer relays chat messages between registered clients.
	ChatServer = ServerType(iota)
	// TextServer serves text files.
	TextServer
	// MediaServer serves media files.
	MediaServer
)

func (t ServerType) String() string {
	switch t {
	case ChatServer:
		return "chat"
	case TextServer:
		return "text"
	case MediaServer:
		return "media"
	}

	return fmt.Sprintf("unknown(%d)", byte(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t ServerType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ServerType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "chat":
		*t = ChatServer
	case "text":
		*t = TextServer
	case "media":
		*t = MediaServer
	default:
		return errors.Errorf("invalid server type %q", string(b))
	}
	return nil
}
