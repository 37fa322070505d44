/*
Package log provides structured logging for cove using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable log levels. Logs go to
standard error by default so the CLI's standard output stays reserved for
command results (version strings, snapshot listings, and the like).

Components obtain child loggers carrying identifying fields:

	logger := log.WithComponent("pool")
	logger.Info().Str("dataset", name).Msg("dataset created")

The push protocol logs with both the volume name and the owner UUID attached,
which keeps origin- and destination-side records of one replication joinable.
*/
package log
