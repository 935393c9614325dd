package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"chatterm/internal/app"
	"chatterm/internal/config"
	"chatterm/internal/profile"
	"chatterm/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "server URL (overrides config)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// First run: seed config.toml so the resolved profile sticks.
	if _, err := config.Load(profile.ConfigPath()); err != nil {
		if err := config.Save(profile.ConfigPath(), &config.Config{DefaultProfile: profileName}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	var ui *tui.App
	fxApp := fx.New(
		app.Module(app.Params{ProfileName: profileName, ServerURL: *serverFlag}),
		fx.Populate(&ui),
		// fx's own event log would draw over the terminal screen.
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := fxApp.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	runErr := ui.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	_ = fxApp.Stop(stopCtx)
	cancel()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
