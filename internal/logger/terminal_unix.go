//go:build linux || darwin

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether fd is attached to a terminal. Colored
// output is only offered when it is.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
