// Package history keeps a local journal of the station's change events.
//
// Every event the station broadcasts (value-updated, value-called, created,
// deleted) can be appended to the change_history table. The journal gives
// operators an audit trail of what was set on which instrument, even when
// no subscriber was listening at the time.
//
// SQLiteRepository implements the broadcaster's sink contract through its
// Deliver method, so wiring it is one call:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	broadcaster.AddSink("history", repo)
//
// Timestamps are stored in UTC as fixed-width RFC 3339 text.
package history
