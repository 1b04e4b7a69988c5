package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/handiism/patch-downloader/internal/acquisition"
	"github.com/handiism/patch-downloader/internal/download"
	"github.com/handiism/patch-downloader/internal/http"
	"github.com/handiism/patch-downloader/internal/model"
)

// ErrInvalidSettings is returned by Validate and Load for unusable settings.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	DownloadsPath  string        `yaml:"downloads_path"`
	FileNameFormat string        `yaml:"file_name_format"`
	Slots          int           `yaml:"slots"`
	PreferTorrent  bool          `yaml:"prefer_torrent"`
	CancelGrace    time.Duration `yaml:"cancel_grace"`
	Retry          RetrySettings `yaml:"retry"`

	// Observer settings
	PollInterval time.Duration `yaml:"poll_interval"`
	LogLevel     string        `yaml:"log_level"`

	HTTP    HTTPSettings    `yaml:"http"`
	Torrent TorrentSettings `yaml:"torrent"`
	Install InstallSettings `yaml:"install"`
}

// RetrySettings bounds per-patch retries.
type RetrySettings struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// HTTPSettings configures the HTTP transport.
type HTTPSettings struct {
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	Proxy           string        `yaml:"proxy"` // "", "none" or a proxy URL
	Segments        int           `yaml:"segments"`
	MinSegmentSize  int64         `yaml:"min_segment_size"`
	MaxDownloadRate int64         `yaml:"max_download_rate"`
}

// TorrentSettings configures the torrent transport.
type TorrentSettings struct {
	Enabled    bool   `yaml:"enabled"`
	DataDir    string `yaml:"data_dir"`
	ListenPort int    `yaml:"listen_port"`
	NoUpload   bool   `yaml:"no_upload"`
}

// InstallSettings selects the installers run for each patch. Dir copies the
// patch into a directory, Command runs an external applier. Both may be set.
type InstallSettings struct {
	Dir     string   `yaml:"dir"`
	Command []string `yaml:"command,omitempty"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	home, _ := homedir.Dir()
	base := filepath.Join(home, ".patch-downloader")
	retry := download.DefaultOptions()
	httpOpts := http.DefaultOptions()
	segOpts := acquisition.DefaultHTTPOptions()

	return &Settings{
		DownloadsPath:  filepath.Join(base, "patches"),
		FileNameFormat: "{name}.patch",
		Slots:          4,
		PreferTorrent:  false,
		CancelGrace:    retry.CancelGrace,
		Retry: RetrySettings{
			MaxRetries:      retry.MaxRetries,
			InitialInterval: retry.InitialRetryInterval,
			MaxInterval:     retry.MaxRetryInterval,
		},

		PollInterval: 200 * time.Millisecond,
		LogLevel:     "info",

		HTTP: HTTPSettings{
			Timeout:        httpOpts.Timeout,
			UserAgent:      httpOpts.UserAgent,
			Segments:       segOpts.Segments,
			MinSegmentSize: segOpts.MinSegmentSize,
		},
		Torrent: TorrentSettings{
			Enabled:  true,
			DataDir:  filepath.Join(base, "torrents"),
			NoUpload: true,
		},
	}
}

// Load reads settings from a YAML file. A missing file yields the defaults.
// Paths starting with ~ are expanded.
func Load(path string) (*Settings, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := settings.expandPaths(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save writes settings to a YAML file.
func (s *Settings) Save(path string) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the settings can start a session.
func (s *Settings) Validate() error {
	switch {
	case s.Slots < 1:
		return fmt.Errorf("%w: slots must be at least 1", ErrInvalidSettings)
	case s.DownloadsPath == "":
		return fmt.Errorf("%w: downloads_path is empty", ErrInvalidSettings)
	case s.Retry.MaxRetries < 0:
		return fmt.Errorf("%w: retry.max_retries must not be negative", ErrInvalidSettings)
	case s.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidSettings)
	}
	return nil
}

func (s *Settings) expandPaths() error {
	for _, p := range []*string{&s.DownloadsPath, &s.Torrent.DataDir, &s.Install.Dir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath:  s.DownloadsPath,
		FileNameFormat: s.FileNameFormat,
	}
}

// ToManagerOptions converts settings to download manager options.
func (s *Settings) ToManagerOptions() download.Options {
	return download.Options{
		MaxRetries:           s.Retry.MaxRetries,
		InitialRetryInterval: s.Retry.InitialInterval,
		MaxRetryInterval:     s.Retry.MaxInterval,
		CancelGrace:          s.CancelGrace,
	}
}

// ToClientOptions converts settings to HTTP client options.
func (s *Settings) ToClientOptions() http.Options {
	return http.Options{
		Timeout:         s.HTTP.Timeout,
		UserAgent:       s.HTTP.UserAgent,
		Proxy:           s.HTTP.Proxy,
		MaxDownloadRate: s.HTTP.MaxDownloadRate,
	}
}

// ToHTTPOptions converts settings to HTTP strategy options.
func (s *Settings) ToHTTPOptions() acquisition.HTTPOptions {
	return acquisition.HTTPOptions{
		Segments:       s.HTTP.Segments,
		MinSegmentSize: s.HTTP.MinSegmentSize,
	}
}

// ToTorrentOptions converts settings to torrent client options.
func (s *Settings) ToTorrentOptions() acquisition.TorrentOptions {
	return acquisition.TorrentOptions{
		DataDir:    s.Torrent.DataDir,
		ListenPort: s.Torrent.ListenPort,
		NoUpload:   s.Torrent.NoUpload,
	}
}
