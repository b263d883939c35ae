/*
Package storage persists health snapshots and timeline events in BoltDB.

Values are JSON. Keys are the big-endian UnixNano timestamp followed by a
sequence number, so a cursor walks records in time order and a range delete
is a seek plus a forward scan.

	snapshots           <ts><seq> → HealthSnapshot
	events              <ts><id>  → Event
	events_by_category  <category>\x00<ts><id> → nil
	meta                schema_version

Prune removes records older than the given cut-offs from every bucket in one
transaction. bbolt never shrinks its file, so Compact rewrites it into a fresh
database and swaps that in place. If the swapped file cannot be reopened the
store is left detached: the storage component reports unhealthy and every
later operation retries the open.

The database is opened with a short lock timeout: a second process pointed
at the same file fails fast instead of hanging.
*/
package storage
