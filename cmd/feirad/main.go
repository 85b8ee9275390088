package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rafaelbarros/feira/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	dataFlag := flag.String("data", "", "data directory (default ~/.feira)")
	listenFlag := flag.String("listen", "", "api listen address (overrides config)")
	flag.Parse()

	dataDir := *dataFlag
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: resolving home dir: %v\n", err)
			os.Exit(1)
		}
		dataDir = filepath.Join(home, ".feira")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: creating data dir: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{DataDir: dataDir, Listen: *listenFlag}),
	)

	app.Run()
}
