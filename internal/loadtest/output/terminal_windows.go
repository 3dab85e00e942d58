//go:build windows

package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal reports whether f is a console or a Cygwin/MSYS pty.
func checkIsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
