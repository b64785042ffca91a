package service

import (
	"net"
	"time"

	"github.com/dmisim/dmisim/pkg/dm"
)

// Config provides the configuration to expose a debug module over the
// DMI socket protocol.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Module is the debug module served to every session. All sessions
	// share its register state.
	Module *dm.DebugModule

	// SessionScope selects how read sequence counters are shared between
	// sessions.
	SessionScope SessionScope
	// PeerCacheSize bounds the number of remote hosts remembered when
	// SessionScope is ScopePeer.
	PeerCacheSize int

	// IdleTimeout closes sessions that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds the time spent writing one batch of responses.
	// Zero disables it.
	WriteTimeout time.Duration

	// DisconnectChan will be closed by the server once it stopped
	// accepting connections.
	DisconnectChan chan<- struct{}
}

// DefaultPeerCacheSize is used when Config.PeerCacheSize is not positive.
const DefaultPeerCacheSize = 16
