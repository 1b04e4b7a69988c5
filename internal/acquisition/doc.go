// Package acquisition implements the transports that fetch a single patch.
//
// A Strategy starts a transfer and returns a Handle that can be cancelled
// and queried for completion and result. Two strategies are provided:
//   - HTTP downloads from a URL with resume, segmentation and a shared rate limit
//   - Torrent joins a swarm through an anacrolix/torrent client
//
// Both report cumulative bytes and a smoothed rate through a ProgressFunc at
// most every SampleInterval, and both verify size and checksum before
// reporting success. Failures are returned as *Failure values carrying a
// Reason (network, disk, integrity or aborted).
//
// Example:
//
//	sel := &acquisition.TransportSelector{
//	    HTTP: acquisition.NewHTTP(http.NewClient(http.DefaultOptions()), acquisition.DefaultHTTPOptions()),
//	}
//	h, err := sel.Select(p).Start(ctx, p, p.Destination, func(done int64, rate float64) {
//	    fmt.Printf("%d bytes at %.0f B/s\n", done, rate)
//	})
//	<-h.Done()
//	err = h.Result()
package acquisition
