package broker

import (
	"context"
	"strconv"
	"time"

	"chatbroker/internal/protocol"
)

// runLiveness is the liveness driver: a ticker goroutine grounded on the
// teacher's own metrics.go ticker-loop shape (and, further back in the
// example pack, on the dedicated "alarm" goroutine that drives
// checkAndPingClients in a single-threaded IRC daemon's event loop). It
// wakes every tickInterval, and once both the wall-clock and tick-count
// thresholds of §4.7 are exceeded, performs one ping round followed by
// an empty-channel sweep.
func (b *Broker) runLiveness(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	b.mu.Lock()
	b.lastPingRound = time.Now()
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.maybeRunPingRound()
		}
	}
}

func (b *Broker) maybeRunPingRound() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticksSinceRound++
	due := time.Since(b.lastPingRound) > pingRoundWallClock && b.ticksSinceRound > pingRoundTicks
	if !due {
		return
	}
	b.ticksSinceRound = 0
	b.lastPingRound = time.Now()

	for _, s := range b.sessions.All() {
		if s.PendingPing != nil {
			b.evictLocked(s, reasonPingTimeout, false)
			continue
		}
		payload := strconv.FormatInt(time.Now().UnixNano(), 10)
		s.PendingPing = &payload
		b.enqueueLocked(s, protocol.Message{
			Cmd: protocol.CmdPing, Reply: protocol.ReplyPing, Src: protocol.ReservedServer, Msg: payload,
		})
		b.Metrics.PingsSent.Add(1)
	}

	b.channels.SweepEmpty()
}
