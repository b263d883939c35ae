/*
Package log wraps zerolog with the monitor's global logger.

Init configures level, console or JSON output and an optional rotated file
copy (always JSON, rotated by lumberjack). Packages take a child logger at
construction time:

	logger := log.WithComponent("poller")
	logger.Info().Dur("interval", d).Msg("Starting poller")

	nodeLog := log.WithNode("probe", types.RolePrimary)
*/
package log
