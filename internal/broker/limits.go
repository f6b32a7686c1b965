package broker

import "time"

// Protocol- and resource-bound constants. Named and collected in one place,
// matching the teacher's own limits.go convention of pulling scattered
// magic numbers into a single const block.
const (
	// chunkSize is the maximum number of entries a names/channels reply
	// carries before it must be continued with another chunk.
	chunkSize = 5

	// pingRoundWallClock is the wall-clock threshold a ping round must
	// exceed before firing, per §4.7.
	pingRoundWallClock = 2 * time.Second

	// pingRoundTicks is the tick-count threshold a ping round must exceed
	// before firing, evaluated alongside pingRoundWallClock.
	pingRoundTicks = 2

	// tickInterval is how often the liveness driver wakes up to evaluate
	// whether a ping round and channel sweep are due.
	tickInterval = 500 * time.Millisecond

	// defaultSendBuffer is the per-session outbound channel capacity.
	defaultSendBuffer = 64

	// sendTimeout bounds how long a fan-out may block on one recipient's
	// outbound channel before that recipient is treated as backed up.
	sendTimeout = 200 * time.Millisecond

	// defaultMaxSessions is the resource bound applied to the Session
	// Registry; §5 leaves the limit unspecified but requires one exist.
	defaultMaxSessions = 10000

	// inboundRateLimit and inboundRateBurst bound how many frames per
	// second one session may submit, the inbound half of §5's backpressure
	// requirement.
	inboundRateLimit = 20.0
	inboundRateBurst = 40

	reasonServerShutdown = "Server Shutdown"
	reasonPingTimeout    = "No ping response"
	reasonUnexpectedPong = "Unexpected Pong"
	reasonConnectionDrop = "Connection Drop"
)
