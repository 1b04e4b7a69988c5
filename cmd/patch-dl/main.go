package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/handiism/patch-downloader/internal/app"
	"github.com/handiism/patch-downloader/internal/config"
	"github.com/handiism/patch-downloader/internal/download"
)

func main() {
	cliApp := &cli.App{
		Name:  "patch-dl",
		Usage: "download and install an ordered list of patches",
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
				Name:  "log-level",
				Usage: "debug, info, notice, warning or error (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "prefer-torrent",
				Usage: "use the torrent when a patch has both sources",
			},
			&cli.StringFlag{
				Name:  "install-dir",
				Usage: "copy installed patches into this directory",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, e.g. :9100",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func overrides(c *cli.Context) func(*config.Settings) {
	return func(s *config.Settings) {
		if c.IsSet("slots") {
			s.Slots = c.Int("slots")
		}
		if c.IsSet("log-level") {
			s.LogLevel = c.String("log-level")
		}
		if c.IsSet("prefer-torrent") {
			s.PreferTorrent = c.Bool("prefer-torrent")
		}
		if c.IsSet("install-dir") {
			s.Install.Dir = c.String("install-dir")
		}
	}
}

func run(c *cli.Context) error {
	settings, patches, err := app.Load(c.String("config"), c.String("patches"), overrides(c))
	if err != nil {
		return err
	}

	a, err := app.New(settings, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := c.String("metrics-addr"); addr != "" {
		go func() {
			if err := app.ServeMetrics(ctx, addr); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}()
	}

	// Handle interrupts
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, cancelling...")
			a.Manager.CancelAll()
		case <-ctx.Done():
		}
	}()

	fmt.Println("Patch Downloader")
	fmt.Printf("Session %s: %d patches, %d slots\n\n", a.Manager.ID(), len(patches), settings.Slots)

	if err := a.Manager.Start(patches, settings.Slots); err != nil {
		return err
	}

	snap := watch(a.Manager, settings.PollInterval)
	fmt.Println()

	switch {
	case snap.Done:
		fmt.Printf("Complete! Installed %s patches\n", snap.Status())
		return nil
	case snap.Err != nil:
		return cli.Exit(fmt.Sprintf("Error: %s failed: %v (%s patches installed)", snap.FailedPatch, snap.Err, snap.Status()), 1)
	case snap.Cancelled:
		return cli.Exit(fmt.Sprintf("Cancelled after installing %s patches", snap.Status()), 130)
	default:
		return errors.New("session ended in an unexpected state")
	}
}

// watch redraws a one-line status every interval until the session finishes.
func watch(m *download.Manager, interval time.Duration) download.Snapshot {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-m.Done():
			return m.Poll()
		case <-ticker.C:
			line := statusLine(m.Poll())
			if line != last {
				fmt.Print("\r\033[K" + line)
				last = line
			}
		}
	}
}

func statusLine(snap download.Snapshot) string {
	labels := make([]string, 0, len(snap.Slots))
	for _, slot := range snap.Slots {
		if slot.Visible {
			labels = append(labels, slot.Label())
		}
	}
	return fmt.Sprintf("[%s] %s | %s", snap.Status(), strings.Join(labels, "; "), snap.Remaining())
}
