//go:build !windows

package main

import (
	"os"
	"syscall"
)

// reloadSignals trigger a catalog reload in `carmenu run`.
var reloadSignals = []os.Signal{syscall.SIGHUP}
