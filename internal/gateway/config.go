package gateway

import "time"

// Config holds the gateway's runtime settings.
type Config struct {
	// Host and Port form the TCP bind address.
	Host string
	Port int

	// HandshakeTimeout bounds the time from socket accept to
	// AUTHENTICATED.
	HandshakeTimeout time.Duration

	// PairingTimeout bounds how long an unattested socket waits for the
	// desktop's pairing decision.
	PairingTimeout time.Duration

	// IdleTimeout disconnects sessions with no inbound traffic. Zero
	// disables it; clients are expected to send protocol-level pings.
	IdleTimeout time.Duration

	// MaxConnections rejects upgrades beyond this count. Zero means
	// unlimited.
	MaxConnections int

	// MaxFrameBytes is the per-frame read limit. Oversized frames close
	// the socket with 1009.
	MaxFrameBytes int64

	// ShutdownGrace is how long a stopping gateway waits for peers to
	// acknowledge the going-away close frame.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             8765,
		HandshakeTimeout: 20 * time.Second,
		PairingTimeout:   60 * time.Second,
		MaxFrameBytes:    256 << 10,
		ShutdownGrace:    2 * time.Second,
	}
}
