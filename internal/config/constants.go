package config

import "time"

// Session lifecycle
const (
	// SessionIdleWindow is how long a session may go without activity
	// before it is considered expired.
	SessionIdleWindow = 30 * time.Minute

	// SessionSweepInterval is how often idle sessions are proactively purged.
	SessionSweepInterval = 5 * time.Minute

	// ApprovalWindow bounds how long a pairing may sit unapproved in the
	// wallet before the caller is told to give up.
	ApprovalWindow = 5 * time.Minute
)

// Transaction relay
const (
	// TransactionTimeout bounds the wait for a wallet to sign a single
	// transaction. The underlying request cannot be cancelled; a late
	// response is discarded.
	TransactionTimeout = 60 * time.Second
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 90 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// Ping timeouts for startup health checks
const (
	DBPingTimeout    = 5 * time.Second
	RedisPingTimeout = 5 * time.Second
)
