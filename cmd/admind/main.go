package main

import (
	"io"
	"os"

	logx "admind/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints a command failure before any configured logger exists.
func reportError(w io.Writer, err error) {
	logx.NewConsole(w, "error").Error("admind failed", logx.Err(err))
}
