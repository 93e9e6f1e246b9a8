package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/omnitak/takcore/internal/daemon"
	"github.com/omnitak/takcore/internal/paths"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (default \"default\")")
	flag.Parse()

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile}),
	)

	app.Run()
}
