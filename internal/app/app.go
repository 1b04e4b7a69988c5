// Package app wires settings into a ready-to-run download session.
package app

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/handiism/patch-downloader/internal/acquisition"
	"github.com/handiism/patch-downloader/internal/config"
	"github.com/handiism/patch-downloader/internal/download"
	"github.com/handiism/patch-downloader/internal/http"
	"github.com/handiism/patch-downloader/internal/install"
	"github.com/handiism/patch-downloader/internal/logger"
	"github.com/handiism/patch-downloader/internal/metrics"
	"github.com/handiism/patch-downloader/internal/model"
)

// App holds the transports and the manager of one session.
type App struct {
	Settings *config.Settings
	Manager  *download.Manager

	torrent *acquisition.Torrent
	log     logger.Logger
}

// New builds the strategies, installer and manager described by settings.
// installer overrides the configured installers when not nil.
func New(settings *config.Settings, installer download.Installer) (*App, error) {
	logger.SetLevel(logger.ParseLevel(settings.LogLevel))
	a := &App{
		Settings: settings,
		log:      logger.New("app"),
	}

	selector := &acquisition.TransportSelector{
		HTTP:          acquisition.NewHTTP(http.NewClient(settings.ToClientOptions()), settings.ToHTTPOptions()),
		PreferTorrent: settings.PreferTorrent,
	}
	if settings.Torrent.Enabled {
		t, err := acquisition.NewTorrent(settings.ToTorrentOptions())
		if err != nil {
			return nil, err
		}
		a.torrent = t
		selector.Torrent = t
	}

	if installer == nil {
		installer = Installer(settings.Install)
	}
	a.Manager = download.NewManager(settings.ToManagerOptions(), selector, installer)
	return a, nil
}

// Installer builds the installer chain for s. With nothing configured the
// downloaded file is left in place.
func Installer(s config.InstallSettings) download.Installer {
	var chain []download.Installer
	if s.Dir != "" {
		chain = append(chain, &install.Copy{Dir: s.Dir})
	}
	if len(s.Command) > 0 {
		chain = append(chain, &install.Command{Args: s.Command})
	}
	return install.Chain(chain...)
}

// Load reads the settings at configPath, applies overrides and loads the
// patch list. An empty configPath uses the defaults.
func Load(configPath, patchesPath string, overrides func(*config.Settings)) (*config.Settings, []model.Patch, error) {
	settings := config.DefaultSettings()
	if configPath != "" {
		var err error
		if settings, err = config.Load(configPath); err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
	}
	if overrides != nil {
		overrides(settings)
		if err := settings.Validate(); err != nil {
			return nil, nil, err
		}
	}

	patches, err := config.LoadPatchList(patchesPath, settings)
	if err != nil {
		return nil, nil, fmt.Errorf("load patch list: %w", err)
	}
	return settings, patches, nil
}

// Close cancels the session if it is still running and shuts the torrent
// client down.
func (a *App) Close() error {
	a.Manager.CancelAll()
	select {
	case <-a.Manager.Done():
	case <-time.After(a.Settings.CancelGrace + time.Second):
		a.log.Warning("session did not stop in time")
	}
	if a.torrent != nil {
		return a.torrent.Close()
	}
	return nil
}

// ServeMetrics registers the collectors and serves them on addr until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string) error {
	metrics.Register(prometheus.DefaultRegisterer)

	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &nethttp.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	}
}
