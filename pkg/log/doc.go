/*
Package log provides structured logging for Ferry built on zerolog.

Initialize once at startup with Init, then derive component and entity
loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("relay")
	logger.Info().Str("cluster_id", id).Msg("session attached")

Console output (human-readable, colored) is the default; JSON output is
intended for production where logs are shipped.
*/
package log
