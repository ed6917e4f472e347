package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jwulff/whisperweb/internal/daemon"
)

// Exit codes for different failure modes
const (
	ExitSuccess        = 0
	ExitError          = 1 // Configuration or runtime error
	ExitAlreadyRunning = 2 // Another whisperweb owns the control socket
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		if errors.Is(err, daemon.ErrDaemonRunning) {
			os.Exit(ExitAlreadyRunning)
		}
		os.Exit(ExitError)
	}
}
