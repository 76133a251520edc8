package constants

import "time"

// API Server Constants
const (
	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20 // 1 MB

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 2000
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 128 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 64 // MB
)

// WebSocket Constants
const (
	// DefaultWSReadBufferSize is the default WebSocket read buffer size
	DefaultWSReadBufferSize = 1024

	// DefaultWSWriteBufferSize is the default WebSocket write buffer size
	DefaultWSWriteBufferSize = 1024

	// DefaultWSPingInterval is the default WebSocket ping interval
	DefaultWSPingInterval = 30 * time.Second

	// DefaultWSWriteTimeout is the default WebSocket write timeout
	DefaultWSWriteTimeout = 10 * time.Second
)

// Monitoring Constants
const (
	// DefaultHealthCheckInterval is the default supervisor health check interval
	DefaultHealthCheckInterval = 30 * time.Second
)
