package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/johndauphine/onboard-sync/internal/exitcodes"
	"github.com/johndauphine/onboard-sync/internal/logging"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "onboard",
		Usage:   "Offline-first driver onboarding progress store and sync engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: built-in defaults plus ONBOARD_* env)",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Signed-in driver id (overrides onboarding.user_id)",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of SQLite (for CI/headless)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Print results as JSON to stdout (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}

			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for machine-readable results
			if c.Bool("output-json") {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			logging.Sync()
			return nil
		},
		Commands: commands(),
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitcodes.IsRecoverable(code) {
			fmt.Fprintf(os.Stderr, "(%s, safe to retry)\n", exitcodes.Description(code))
		}
		os.Exit(code)
	}
}
