package realtime

import (
	"time"

	"github.com/coder/websocket"
)

// Security/performance limits.
const (
	// Max bytes per inbound websocket frame. Clients only send small control frames.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Max envelope id length accepted from clients.
	maxEnvelopeIDLen = 64
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Inbound frames per principal per window, shared by all of its feeds.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second

	defaultSendQueueSize = 64
	minSendQueueSize     = 8

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second

	maxPingFailures = 3
)

// StatusSessionEnded closes a feed after a terminal session event was delivered.
const StatusSessionEnded websocket.StatusCode = 4001
