//go:build !linux

package netio

import (
	"context"
	"net"
)

// Listen binds a TCP listener on addr. On non-Linux platforms
// SO_REUSEADDR is left to net.Listen's own defaults since
// golang.org/x/sys/unix's socket option constants are Linux-specific.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
