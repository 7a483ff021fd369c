// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// Network and Port Constants
const (
	// DefaultServerHost is the address the device API binds to
	DefaultServerHost = "127.0.0.1"

	// DefaultServerPort is the default port for the device API
	DefaultServerPort = 48484

	// DefaultServerURL is what the CLI talks to when no --server is given
	DefaultServerURL = "http://127.0.0.1:48484"
)

// File System Permissions
const (
	// DirPermissions is the standard directory permissions for appmanager directories
	DirPermissions = 0755

	// FilePermissions is the standard file permissions for appmanager config files
	FilePermissions = 0644
)

// Database Configuration
const (
	// DefaultMaxOpenConnections is the default maximum number of database connections.
	// SQLite serialises writers, so one connection avoids SQLITE_BUSY.
	DefaultMaxOpenConnections = 1

	// DefaultMaxIdleConnections is the default maximum number of idle database connections
	DefaultMaxIdleConnections = 1

	// DefaultConnectionTimeout is the default database connection lifetime
	DefaultConnectionTimeout = 5 * time.Minute

	// DefaultIdleTimeout is the default database idle connection timeout
	DefaultIdleTimeout = 1 * time.Minute
)

// HTTP Configuration
const (
	// DefaultHTTPClientTimeout is the default timeout for HTTP client requests
	DefaultHTTPClientTimeout = 30 * time.Second

	// DefaultServerReadTimeout is the default server read timeout
	DefaultServerReadTimeout = 10 * time.Second

	// DefaultServerWriteTimeout is the default server write timeout.
	// Synchronous applies (?wait=true) may take a while.
	DefaultServerWriteTimeout = 5 * time.Minute

	// DefaultServerShutdownTimeout is the default server graceful shutdown timeout
	DefaultServerShutdownTimeout = 30 * time.Second
)

// Pagination Constants
const (
	// DefaultPageSize is the default number of items per page in paginated responses
	DefaultPageSize = 20

	// MaxPageSize is the maximum allowed page size to prevent resource exhaustion
	MaxPageSize = 100
)

// Reconciliation
const (
	// DefaultPollInterval is how often the runtime inventory is compared against target
	DefaultPollInterval = 30 * time.Second

	// DefaultMaxAttempts bounds retries of a single runtime call
	DefaultMaxAttempts = 4

	// DefaultInitialBackoff is the delay before the first retry
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the exponential backoff
	DefaultMaxBackoff = 5 * time.Second

	// DefaultCallTimeout bounds a single runtime call
	DefaultCallTimeout = 30 * time.Second

	// DefaultPullTimeout is added to the call timeout of creates, which may pull images
	DefaultPullTimeout = 10 * time.Minute

	// DefaultStopTimeout is the graceful stop period handed to the engine
	DefaultStopTimeout = 10 * time.Second

	// DefaultRunHistory is how many reconciliation runs are retained
	DefaultRunHistory = 200

	// DefaultLogTail is how many log lines are returned per service
	DefaultLogTail = 100

	// MaxLogTail caps a requested log tail
	MaxLogTail = 5000

	// HealthCacheTTL is how long a health probe result is reused
	HealthCacheTTL = 2 * time.Second
)

// Port Validation
const (
	// MinPortNumber is the minimum valid TCP port number
	MinPortNumber = 1

	// MaxPortNumber is the maximum valid TCP port number
	MaxPortNumber = 65535
)

// Output Limits
const (
	// MaxErrorMessageLength is the maximum length for error messages before truncation
	MaxErrorMessageLength = 500
)
