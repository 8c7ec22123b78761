// Package termio provides the interactive console support for the `log`
// subcommand: raw-mode stdin so any key (not just Enter) interrupts a live
// trace session, and a terminal-width query for the gprof histogram bars
// in internal/dispatch. This generalises original_source/pytrace's
// consoleio.py Conio context manager, grounded on the teacher's own use of
// golang.org/x/term for the same purpose in terminal_host.go.
package termio

import (
	"bufio"
	"errors"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// RawConsole puts stdin into raw mode for the duration of a live trace
// session, restoring it on Close. The zero value is not usable; build one
// with Open.
type RawConsole struct {
	fd       int
	oldState *term.State
	in       *bufio.Reader
}

// Open switches stdin to raw mode, mirroring Conio.__enter__. If stdin is
// not a terminal (e.g. piped input in tests or CI), it returns a
// RawConsole whose KeyPressed always reports false rather than failing.
func Open() (*RawConsole, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &RawConsole{fd: -1}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawConsole{fd: fd, oldState: old, in: bufio.NewReader(os.Stdin)}, nil
}

// Close restores the terminal's original line-buffered mode (Conio.__exit__).
func (c *RawConsole) Close() error {
	if c.fd < 0 || c.oldState == nil {
		return nil
	}
	return term.Restore(c.fd, c.oldState)
}

// KeyPressed reports whether a key is waiting to be read, without
// blocking (Conio.kbhit). Always false on a non-terminal stdin.
func (c *RawConsole) KeyPressed() bool {
	if c.fd < 0 {
		return false
	}
	if c.in.Buffered() > 0 {
		return true
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

// ReadKey reads and returns the next pressed key (Conio.getch). Returns an
// error if stdin is not a terminal.
func (c *RawConsole) ReadKey() (byte, error) {
	if c.fd < 0 {
		return 0, errors.New("termio: stdin is not a terminal")
	}
	return c.in.ReadByte()
}

// Width returns the current terminal column width, or a sane default of
// 80 if it cannot be determined (used by internal/dispatch to size the
// gprof histogram bars).
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
