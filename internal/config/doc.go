// Package config provides configuration management for the patch downloader.
//
// This package handles:
//   - Loading and saving settings from YAML files
//   - Default configuration values
//   - Loading the ordered patch list produced by the resolver
//   - Conversion to the option types of the other packages
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/.patch-downloader/patches
//	// 4 slots, 3 retries, 5s cancel grace
//	// Torrents enabled, HTTP preferred when both sources exist
//
// # Loading from File
//
//	settings, err := config.Load("~/.patch-downloader/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Patch Lists
//
//	patches, err := config.LoadPatchList("patches.yaml", settings)
//
// # Configuration Options
//
// Settings includes options for:
//   - Download paths and file naming
//   - Slot count, retry behavior and cancellation grace
//   - HTTP timeouts, proxy, segmentation and rate limiting
//   - Torrent client storage and ports
//   - Installers
package config
