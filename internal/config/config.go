package config

import "time"

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultLogLevel is used when neither --log-level nor LOG_LEVEL is set.
	DefaultLogLevel = "info"

	// DefaultCatalogFile is empty, which selects the embedded reference table.
	DefaultCatalogFile = ""

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout = 10 * time.Second
)
