// Package historian persists poller samples in a SQLite database.
//
// A Store implements hwc.Sink: attach it to a Poller with hwc.WithSink and
// every value-change sample is appended to the samples table. The database is
// driven through database/sql with the pure-Go modernc.org/sqlite driver, so
// the historian builds without cgo.
//
// Usage:
//
//	store, err := historian.Open("samples.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	poller, err := hwc.NewPoller(ctx, group, hwc.WithSink(store))
//	if err != nil {
//		return err
//	}
//
// Recorded samples can be read back per signal:
//
//	history, err := store.Query(ctx, "dac.ch1", from, to)
//	latest, err := store.Latest(ctx, "dac.ch1")
//	removed, err := store.Prune(ctx, time.Now().AddDate(0, -1, 0))
package historian
