package dmiserver

import (
	"context"
	"net"
)

// Listen opens a TCP listener on addr. With reuseAddr the socket is
// created with SO_REUSEADDR so a restarted server can bind while old
// connections linger in TIME_WAIT.
func Listen(ctx context.Context, addr string, reuseAddr bool) (net.Listener, error) {
	var lc net.ListenConfig
	if reuseAddr {
		lc.Control = reuseAddrControl
	}
	return lc.Listen(ctx, "tcp", addr)
}
