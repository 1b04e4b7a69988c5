// Package download coordinates the acquisition and installation of patches.
//
// A Manager owns a fixed number of slots. Queued patches are assigned to idle
// slots in list order, each slot runs one acquisition strategy at a time, and
// downloaded patches are handed to an Installer strictly in list order even
// when they finish out of order. A slot is released only after its patch is
// installed, so the earliest uninstalled patch always holds a slot.
//
// # Slot States
//
//	idle -> checking -> downloading -> done -> idle
//	          |              |
//	          +--> failed <--+
//	               failed -> checking (retry)
//
// Failed attempts are retried with exponential backoff up to
// Options.MaxRetries times; exceeding the bound fails the session.
//
// # Usage
//
//	m := download.NewManager(download.DefaultOptions(), selector, installer)
//	if err := m.Start(patches, 4); err != nil {
//	    return err
//	}
//
//	ticker := time.NewTicker(200 * time.Millisecond)
//	defer ticker.Stop()
//	for {
//	    select {
//	    case <-ticker.C:
//	        snap := m.Poll()
//	        fmt.Println(snap.Status(), snap.Remaining())
//	    case <-m.Done():
//	        return m.Wait(ctx)
//	    }
//	}
//
// Poll never blocks on downloads or installs and may be called at any
// cadence. CancelAll stops the session cooperatively; closing an observer
// never cancels implicitly.
package download
