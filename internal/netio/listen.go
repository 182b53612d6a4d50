//go:build linux

package netio

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen binds a TCP listener on addr with SO_REUSEADDR explicitly set,
// mirroring the teacher's habit (internal/socketcan/device.go) of
// reaching for golang.org/x/sys/unix for socket-level behavior instead of
// trusting net.Listen's platform defaults.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}
