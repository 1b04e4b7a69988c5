// Package ioutils provides file system utilities for the patch downloader.
//
// # File Operations
//
//	// Copy a downloaded patch into the install directory
//	err := ioutils.CopyFile(ctx, "/cache/D2023.patch", "/game/D2023.patch")
//
//	// Move a finished torrent payload next to the other patches
//	err := ioutils.MoveFile(ctx, "/torrents/D2023.patch", "/cache/D2023.patch")
//
//	// Ensure directory exists
//	err := ioutils.EnsureDir("/cache/patches")
//
// # Filename Sanitization
//
//	safe := ioutils.SanitizeFileName("D2023:04/28") // Returns "D2023_04_28"
package ioutils
