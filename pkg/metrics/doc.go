/*
Package metrics exposes Prometheus collectors and the health registry behind
/health and /ready.

All collectors are registered with the default registry on import and
served by the API at /metrics.

# Monitoring loop

	sentinel_poll_ticks_total{result}
	sentinel_poll_tick_duration_seconds
	sentinel_probe_duration_seconds{node,check}
	sentinel_probe_failures_total{node,check}
	sentinel_node_check_up{node,check}
	sentinel_node_state{node,state}
	sentinel_vip_location{location}
	sentinel_vip_lookup_attempts
	sentinel_dhcp_leases

# Events and notifications

	sentinel_events_total{category,kind}
	sentinel_notifications_total{channel,result}
	sentinel_notification_duration_seconds{channel}
	sentinel_notifications_suppressed_total{reason}
	sentinel_test_notifications_rate_limited_total

# Storage and API

	sentinel_storage_operation_duration_seconds{operation}
	sentinel_storage_errors_total{operation}
	sentinel_snapshots_stored
	sentinel_events_stored
	sentinel_database_size_bytes
	sentinel_retention_runs_total{result}
	sentinel_retention_deleted_total{kind}
	sentinel_api_requests_total{route,status}
	sentinel_api_request_duration_seconds{route}

The store gauges are refreshed by a Collector on a fixed interval.

# Health

Components report through UpdateComponent. GetHealth is healthy while no
registered component is failing; GetReadiness additionally requires the
storage, poller and api components to have registered.
*/
package metrics
