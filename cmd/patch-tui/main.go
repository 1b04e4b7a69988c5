package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/handiism/patch-downloader/internal/app"
	"github.com/handiism/patch-downloader/internal/config"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/tui"
)

func main() {
	cliApp := &cli.App{
		Name:  "patch-tui",
		Usage: "download and install patches with a terminal UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Value:   "~/.patch-downloader/config.yaml",
			},
			&cli.StringFlag{
				Name:     "patches",
				Aliases:  []string{"p"},
				Usage:    "path to the ordered patch list",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "slots",
				Usage: "number of concurrent downloads (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to this file instead of discarding them",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	settings, patches, err := app.Load(c.String("config"), c.String("patches"), func(s *config.Settings) {
		if c.IsSet("slots") {
			s.Slots = c.Int("slots")
		}
	})
	if err != nil {
		return err
	}

	// Log lines would tear the alternate screen.
	closeLog, err := logger.Redirect(c.String("log-file"))
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(settings, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Manager.Start(patches, settings.Slots); err != nil {
		return err
	}
	if err := tui.Run(a.Manager, settings.PollInterval); err != nil {
		return err
	}

	snap := a.Manager.Poll()
	switch {
	case snap.Err != nil:
		return cli.Exit(fmt.Sprintf("Error: %s failed: %v", snap.FailedPatch, snap.Err), 1)
	case snap.Cancelled:
		return cli.Exit("Cancelled.", 130)
	}
	return nil
}
