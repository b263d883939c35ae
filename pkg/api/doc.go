/*
Package api serves the monitor's HTTP interface.

Routes under /api require the X-API-Key header; the event stream also
accepts the key as ?api_key= since EventSource cannot set headers. /health,
/ready and /metrics are open, as are the dashboard's static files when a
directory is configured.

	GET    /api/status                      latest snapshot with node names
	GET    /api/history?hours=N             snapshots, oldest first
	GET    /api/events?limit=N&category=C   events, newest first
	GET    /api/events/stream               server-sent events
	GET    /api/notifications/settings      settings with secrets masked
	POST   /api/notifications/settings      partial update
	POST   /api/notifications/test          send a test message
	POST   /api/notifications/templates/reset
	GET    /api/notifications/snooze
	POST   /api/notifications/snooze
	DELETE /api/notifications/snooze

Errors are JSON objects with a single "detail" field. Every request carries
an X-Request-ID, is logged, counted in sentinel_api_requests_total and runs
under a per-route timeout.
*/
package api
