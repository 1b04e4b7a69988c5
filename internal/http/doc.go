// Package http provides the HTTP client used to fetch patch files.
//
// The Client in this package handles:
//   - User-Agent headers
//   - HEAD requests for size and range support
//   - Ranged GETs for resumed and segmented downloads
//   - A read-rate limit shared by all concurrent downloads
//
// # Basic Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	info, err := client.Head(ctx, patchURL)
//
//	// Download bytes [0, 1MiB) of the patch
//	n, err := client.Fetch(ctx, patchURL, 0, 1<<20-1, writer)
//
// # Progress Tracking
//
// The ProgressWriter type can be used to wrap any io.Writer for progress tracking:
//
//	pw := &http.ProgressWriter{
//	    Writer:   file,
//	    OnUpdate: func(n int64) { /* accumulate */ },
//	}
package http
