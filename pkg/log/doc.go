/*
Package log provides structured logging built on zerolog.

A single global logger is initialized once at startup via Init and shared
across the process. Packages derive child loggers with WithComponent,
WithStrategy, WithTenant, or WithQueue so every line carries the fields
operators filter on.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("tenant_id", tenantID).Msg("search completed")

Console output (human-readable) is used when JSONOutput is false, which is
the default for the CLI; long-running workers log JSON.
*/
package log
