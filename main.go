/*
Vortex bootstraps the engine package: it loads the TOML config, brings the
window and renderer up and runs the frame loop until the window closes or
the process receives a termination signal.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vortex/engine"
)

const configPath = "vortex.toml"

func main() {
	e, err := engine.New(configPath)
	if err != nil {
		panic(err)
	}

	if err := e.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		_ = e.Shutdown()
	}()

	if err := e.Run(); err != nil {
		panic(err)
	}
}
