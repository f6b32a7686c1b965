// Package broker implements the chat relay core: connection acceptance,
// framing, schema validation, the session/channel registries, command
// dispatch, fan-out routing, and the ping-driven liveness sweep.
//
// Concurrency discipline: §5 of the specification permits either a single
// cooperative event loop or a thread-per-connection model with mutation
// serialized under one exclusive lock. This implementation takes the
// latter, grounded on the teacher's internal/core + internal/ws pairing —
// one goroutine reads and dispatches each connection's inbound frames,
// one goroutine drains its outbound queue, and a single Broker.mu
// RWMutex is the "single exclusive discipline" guarding both registries.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chatbroker/internal/framing"
	"chatbroker/internal/nickname"
	"chatbroker/internal/protocol"
	"chatbroker/internal/registry"
)

// Metrics are cumulative broker counters, exposed read-only via the
// admin HTTP API.
type Metrics struct {
	FramesRouted  atomic.Int64
	SchemaErrors  atomic.Int64
	PingsSent     atomic.Int64
	Evictions     atomic.Int64
	ConnsAccepted atomic.Int64
}

// Broker is the relay's process-wide state: a single init (Run's listen)
// and teardown (context cancellation), modeled as one object with
// explicit lifecycle methods rather than ambient package state.
type Broker struct {
	mu       sync.RWMutex
	sessions *registry.SessionRegistry
	channels *registry.ChannelRegistry

	addr     string
	log      *slog.Logger
	maxConns int

	Metrics Metrics

	lastPingRound time.Time
	ticksSinceRound int

	listener net.Listener
	wg       sync.WaitGroup
}

// Config holds the broker's tunable parameters.
type Config struct {
	Addr        string
	MaxSessions int
	Logger      *slog.Logger
}

// New constructs a Broker that has not yet bound a listener.
func New(cfg Config) *Broker {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		sessions: registry.NewSessionRegistry(),
		channels: registry.NewChannelRegistry(),
		addr:     cfg.Addr,
		log:      cfg.Logger,
		maxConns: cfg.MaxSessions,
	}
}

// Run binds the listener and serves connections until ctx is canceled,
// at which point it performs the ordered shutdown of §4.9: close the
// listener, evict every session with fromServer=true, wait for in-flight
// goroutines, then return.
func (b *Broker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return errors.Wrapf(err, "broker: listen on %s", b.addr)
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	b.log.Info("broker listening", "addr", b.addr)

	liveCtx, stopLiveness := context.WithCancel(ctx)
	defer stopLiveness()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runLiveness(liveCtx)
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		b.acceptLoop(ln)
	}()

	<-ctx.Done()
	b.log.Info("broker stopping")
	_ = ln.Close()
	<-acceptDone

	b.shutdownAllSessions()
	stopLiveness()
	b.wg.Wait()
	b.log.Info("broker stopped")
	return nil
}

func (b *Broker) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.log.Warn("accept error", "err", err)
			return
		}
		b.Metrics.ConnsAccepted.Add(1)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.serve(conn)
		}()
	}
}

// serve owns one connection end to end: creating its session, spawning
// its writer goroutine, and running its reader loop until the connection
// drops or the session is evicted.
func (b *Broker) serve(conn net.Conn) {
	id := uuid.NewString()
	sessionLog := b.log.With("conn_id", id, "remote", conn.RemoteAddr().String())

	s, ok := b.createSession(id, conn)
	if !ok {
		sessionLog.Warn("session registry full, rejecting connection")
		_ = conn.Close()
		return
	}
	sessionLog = sessionLog.With("nick", s.Nick)
	sessionLog.Info("session created")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(s, sessionLog)
	}()

	limiter := newInboundLimiter()
	f := framing.NewFramer(conn)
	for {
		raw, oversized, err := f.ReadFrame()
		if err != nil {
			b.evict(s, reasonConnectionDrop, false, sessionLog)
			break
		}
		_ = limiter.Wait(context.Background())
		if oversized {
			b.Metrics.SchemaErrors.Add(1)
			b.sendSchemaError(s)
			continue
		}
		var msg protocol.Message
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			b.Metrics.SchemaErrors.Add(1)
			b.sendSchemaError(s)
			continue
		}
		b.dispatch(s, msg, sessionLog)
	}
	<-writerDone
}

func (b *Broker) writeLoop(s *registry.Session, log *slog.Logger) {
	for msg := range s.Out {
		frame, err := framing.Encode(msg)
		if err != nil {
			log.Error("encode outbound frame", "err", err)
			continue
		}
		if _, err := s.Conn.Write(frame); err != nil {
			log.Debug("write error, closing", "err", err)
			_ = s.Conn.Close()
			return
		}
	}
}

func (b *Broker) createSession(id string, conn net.Conn) (*registry.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sessions.Count() >= b.maxConns {
		return nil, false
	}
	nick, err := nickname.Generate(b.sessions.Taken)
	if err != nil {
		return nil, false
	}
	s := b.sessions.Insert(id, conn, nick, defaultSendBuffer)
	b.enqueueLocked(s, protocol.Message{
		Cmd:    protocol.CmdNick,
		Reply:  protocol.ReplyNick,
		Src:    protocol.ReservedNewUser,
		Update: nick,
	})
	return s, true
}

// enqueueLocked delivers msg to s's outbound queue, applying sendTimeout
// backpressure. Caller must hold b.mu. Returns false if the send timed
// out, meaning the recipient's queue is backed up.
func (b *Broker) enqueueLocked(s *registry.Session, msg protocol.Message) bool {
	select {
	case s.Out <- msg:
		b.Metrics.FramesRouted.Add(1)
		return true
	case <-time.After(sendTimeout):
		return false
	}
}

func (b *Broker) sendSchemaError(s *registry.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(s, protocol.Message{
		Cmd:   protocol.CmdMsg,
		Src:   protocol.ReservedServer,
		Error: protocol.ErrSchema,
		Msg:   "malformed or unrecognized frame",
	})
}

// evict tears a session down per §4.3's remove operation: a personal
// quit reply, a quit announcement to every channel it belonged to, then
// registry and transport teardown. Safe to call from any goroutine; it
// takes b.mu itself.
func (b *Broker) evict(s *registry.Session, reason string, fromServer bool, log *slog.Logger) {
	b.mu.Lock()
	b.evictLocked(s, reason, fromServer)
	b.mu.Unlock()
	if log != nil {
		log.Info("session evicted", "reason", reason, "from_server", fromServer)
	}
}

func (b *Broker) evictLocked(s *registry.Session, reason string, fromServer bool) {
	if _, ok := b.sessions.LookupByName(s.Nick); !ok {
		return // already evicted
	}

	personalSrc := s.Nick
	if fromServer {
		personalSrc = protocol.ReservedServer
	}
	b.enqueueLocked(s, protocol.Message{
		Cmd:   protocol.CmdQuit,
		Reply: protocol.ReplyQuit,
		Src:   personalSrc,
		Msg:   reason,
	})

	affected := make(map[*registry.Channel]struct{})
	for name := range s.Channels {
		if c, ok := b.channels.Find(name); ok {
			affected[c] = struct{}{}
		}
	}
	for c := range affected {
		b.channels.RemoveMember(c, s)
	}
	recipients := make(map[*registry.Session]struct{})
	for c := range affected {
		for _, member := range b.channels.Members(c) {
			recipients[member] = struct{}{}
		}
	}
	for member := range recipients {
		b.enqueueLocked(member, protocol.Message{
			Cmd:   protocol.CmdQuit,
			Reply: protocol.ReplyQuit,
			Src:   s.Nick,
			Msg:   reason,
		})
	}

	b.sessions.Remove(s)
	close(s.Out)
	_ = s.Conn.Close()
	b.Metrics.Evictions.Add(1)
}

func (b *Broker) shutdownAllSessions() {
	b.mu.Lock()
	all := b.sessions.All()
	for _, s := range all {
		b.evictLocked(s, reasonServerShutdown, true)
	}
	b.mu.Unlock()
}

// Addr returns the listener's bound address. Only meaningful after Run
// has started listening; used by tests that bind to port 0 and need the
// OS-assigned port.
func (b *Broker) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// SessionNicks returns the nickname of every live session, sorted.
// Exposed for the admin HTTP API.
func (b *Broker) SessionNicks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions.Nicks()
}

// ChannelSnapshot describes one live channel for the admin HTTP API.
type ChannelSnapshot struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Channels returns a snapshot of every live channel, sorted by name.
func (b *Broker) Channels() []ChannelSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := b.channels.Names()
	out := make([]ChannelSnapshot, 0, len(names))
	for _, name := range names {
		c, _ := b.channels.Find(name)
		out = append(out, ChannelSnapshot{Name: name, Members: len(c.Members)})
	}
	return out
}
