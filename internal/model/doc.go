// Package model defines the patch descriptor handed to the download manager.
//
// # Patch
//
// Patch identifies one file to acquire: its name, expected length, sources and
// local destination:
//
//	p := model.NewPatch("D2023.04.28.0000.0001", size, url, magnet, "sha1:...", pathConfig)
//	fmt.Println(p.Destination)
//
// # Path Configuration
//
// PathConfig controls where patches are written:
//
//	cfg := &model.PathConfig{
//	    DownloadsPath:  "/var/cache/patches",
//	    FileNameFormat: "{name}.patch",
//	}
//
// # Checksums
//
// Patch.Hash is optional. When present it is "sha1:<hex>" or "sha256:<hex>"
// and is verified after the bytes are on disk.
package model
