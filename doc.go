// Package parcelshare implements content-addressed file sharing over an
// asynchronous ledger backend.
//
// Files are split into fixed-size chunks, committed chunk by chunk and
// described by a manifest keyed on the digest of the full content. Commits
// are split-phase: the backend acknowledges each write later through a pulse
// stream, and the manager folds those pulses into local state, drives the
// remaining batches and runs follow-up actions (auto-send, tagging, caching)
// once the manifest lands.
//
// Example:
//
//	options := parcelshare.NewOptions()
//	options.LocalAgent = "agent-alice"
//
//	ps, err := parcelshare.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ps.Close()
//
//	ps.OnNotification(func(entry parcel.NotificationEntry) {
//	    fmt.Printf("%s: %s\n", entry.Kind, entry.Message)
//	})
//
//	res, err := ps.PublishFile("report.pdf", "application/pdf", data, []string{"reports"}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("publishing %d chunks\n", res.NumChunks())
package parcelshare
