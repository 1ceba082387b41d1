package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Exitf reports a fatal command error on stderr, prefixed with the program
// name, and exits with status 1.
func Exitf(format string, args ...any) {
	exitf(os.Stderr, os.Exit, format, args...)
}

func exitf(w io.Writer, exit func(int), format string, args ...any) {
	_, _ = fmt.Fprintf(w, "%s: %s\n", filepath.Base(os.Args[0]), fmt.Sprintf(format, args...))
	exit(1)
}
