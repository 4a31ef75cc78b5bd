package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/daemon"
	"github.com/matheus3301/pairchat/internal/paths"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", paths.ConfigPath(), "config file")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	instance := paths.ResolveName(*instanceFlag, cfg)
	if err := paths.ValidateName(instance); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Instance: instance, Config: cfg}),
	)

	app.Run()
}
