package broker

import (
	"log/slog"

	"chatbroker/internal/protocol"
	"chatbroker/internal/registry"
)

// dispatch validates src anti-spoofing and routes a parsed inbound
// message to its command handler. An unknown cmd or a src mismatch
// produces a single schema error reply to the sender only, per §4.5.
// Required fields are not checked here; a handler treats a missing field
// as its zero value.
func (b *Broker) dispatch(s *registry.Session, msg protocol.Message, log *slog.Logger) {
	cmd := lowerCmd(msg.Cmd)

	// Every client-origin frame must carry src equal to the sender's
	// current nickname; the check runs under b.mu, the same lock under
	// which s.Nick changes, so it always compares against the current nick.
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Src != s.Nick {
		b.Metrics.SchemaErrors.Add(1)
		b.enqueueLocked(s, schemaErrorMsg())
		return
	}

	switch cmd {
	case protocol.CmdNick:
		b.handleNick(s, msg)
	case protocol.CmdJoin:
		b.handleJoin(s, msg)
	case protocol.CmdLeave:
		b.handleLeave(s, msg)
	case protocol.CmdChannels:
		b.handleChannels(s)
	case protocol.CmdUsers:
		b.handleUsers(s, msg)
	case protocol.CmdMsg:
		b.handleMsg(s, msg)
	case protocol.CmdQuit:
		b.handleQuit(s, msg, log)
	case protocol.CmdPing:
		// No-op by design: the broker is exclusively the ping initiator.
		// See §9's documented divergence from a naive reading of the
		// protocol table.
	case protocol.CmdPong:
		b.handlePong(s, msg, log)
	default:
		b.Metrics.SchemaErrors.Add(1)
		b.enqueueLocked(s, schemaErrorMsg())
	}
}

func lowerCmd(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func schemaErrorMsg() protocol.Message {
	return protocol.Message{
		Cmd:   protocol.CmdMsg,
		Src:   protocol.ReservedServer,
		Error: protocol.ErrSchema,
		Msg:   "malformed or unrecognized frame",
	}
}

func (b *Broker) handleNick(s *registry.Session, msg protocol.Message) {
	if !protocol.ValidNick(msg.Update) || b.sessions.Taken(msg.Update) {
		b.enqueueLocked(s, errorMsg(protocol.ErrBadNick, "nickname unavailable"))
		return
	}

	old := s.Nick
	if !b.sessions.Rename(s, msg.Update) {
		b.enqueueLocked(s, errorMsg(protocol.ErrBadNick, "nickname unavailable"))
		return
	}

	// Channel.Members is keyed by nickname; re-key this session's entry in
	// every channel it belongs to so membership lookups keep matching it.
	for name := range s.Channels {
		if c, ok := b.channels.Find(name); ok {
			delete(c.Members, old)
			c.Members[s.Nick] = s
		}
	}

	reply := protocol.Message{Cmd: protocol.CmdNick, Reply: protocol.ReplyNick, Src: old, Update: s.Nick}
	b.enqueueLocked(s, reply)
	notified := map[*registry.Session]struct{}{s: {}}
	for name := range s.Channels {
		if c, ok := b.channels.Find(name); ok {
			for _, member := range b.channels.Members(c) {
				if _, done := notified[member]; done {
					continue
				}
				notified[member] = struct{}{}
				b.enqueueLocked(member, reply)
			}
		}
	}
}

func (b *Broker) handleJoin(s *registry.Session, msg protocol.Message) {
	for _, name := range msg.Channels {
		if !protocol.ValidChannel(name) {
			b.enqueueLocked(s, errorMsg(protocol.ErrNoChannel, "invalid channel name: "+name))
			return
		}
		if _, already := s.Channels[name]; already {
			b.enqueueLocked(s, errorMsg(protocol.ErrMember, "already a member of "+name))
			return
		}
	}

	for _, name := range msg.Channels {
		c := b.channels.FindOrCreate(name)
		b.channels.AddMember(c, s)

		joinMsg := protocol.Message{Cmd: protocol.CmdJoin, Reply: protocol.ReplyJoin, Src: s.Nick, Channels: []string{name}}
		for _, member := range b.channels.Members(c) {
			b.enqueueLocked(member, joinMsg)
		}

		b.sendNamesChunks(s, c)
	}
}

// sendNamesChunks replies to the joiner/requester with the channel's
// members in chunks of five, terminated by an empty names reply with
// client=false, per §4.5's join semantics.
func (b *Broker) sendNamesChunks(requester *registry.Session, c *registry.Channel) {
	members := b.channels.Members(c)
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Nick
	}
	for i := 0; i < len(names); i += chunkSize {
		end := i + chunkSize
		if end > len(names) {
			end = len(names)
		}
		b.enqueueLocked(requester, protocol.Message{
			Cmd: protocol.CmdUsers, Reply: protocol.ReplyNames, Src: protocol.ReservedServer,
			Channels: []string{c.Name}, Users: append([]string(nil), names[i:end]...),
		})
	}
	b.enqueueLocked(requester, protocol.Message{
		Cmd: protocol.CmdUsers, Reply: protocol.ReplyNames, Src: protocol.ReservedServer,
		Channels: []string{c.Name}, Users: []string{}, Client: protocol.BoolPtr(false),
	})
}

func (b *Broker) handleLeave(s *registry.Session, msg protocol.Message) {
	var resolved []*registry.Channel
	for _, name := range msg.Channels {
		c, ok := b.channels.Find(name)
		if !ok {
			b.enqueueLocked(s, errorMsg(protocol.ErrNoChannel, "no such channel: "+name))
			return
		}
		if _, member := s.Channels[name]; !member {
			b.enqueueLocked(s, errorMsg(protocol.ErrNonMember, "not a member of "+name))
			return
		}
		resolved = append(resolved, c)
	}

	for _, c := range resolved {
		leaveMsg := protocol.Message{Cmd: protocol.CmdLeave, Reply: protocol.ReplyLeave, Src: s.Nick, Channels: []string{c.Name}, Msg: msg.Msg}
		for _, member := range b.channels.Members(c) {
			b.enqueueLocked(member, leaveMsg)
		}
		b.channels.RemoveMember(c, s)
	}
}

func (b *Broker) handleChannels(s *registry.Session) {
	names := b.channels.Names()
	for i := 0; i < len(names); i += chunkSize {
		end := i + chunkSize
		if end > len(names) {
			end = len(names)
		}
		b.enqueueLocked(s, protocol.Message{
			Cmd: protocol.CmdChannels, Reply: protocol.ReplyChannels, Src: protocol.ReservedServer,
			Channels: append([]string(nil), names[i:end]...),
		})
	}
	b.enqueueLocked(s, protocol.Message{
		Cmd: protocol.CmdChannels, Reply: protocol.ReplyChannels, Src: protocol.ReservedServer, Channels: []string{},
	})
}

func (b *Broker) handleUsers(s *registry.Session, msg protocol.Message) {
	targets := msg.Channels
	if len(targets) == 0 {
		targets = b.channels.Names()
	}
	var resolved []*registry.Channel
	for _, name := range targets {
		c, ok := b.channels.Find(name)
		if !ok {
			b.enqueueLocked(s, errorMsg(protocol.ErrNoChannel, "no such channel: "+name))
			return
		}
		resolved = append(resolved, c)
	}

	clientFlag := msg.ClientFlag()
	for _, c := range resolved {
		members := b.channels.Members(c)
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Nick
		}
		for i := 0; i < len(names); i += chunkSize {
			end := i + chunkSize
			if end > len(names) {
				end = len(names)
			}
			b.enqueueLocked(s, protocol.Message{
				Cmd: protocol.CmdUsers, Reply: protocol.ReplyNames, Src: protocol.ReservedServer,
				Channels: []string{c.Name}, Users: append([]string(nil), names[i:end]...),
				Client: protocol.BoolPtr(clientFlag),
			})
		}
		b.enqueueLocked(s, protocol.Message{
			Cmd: protocol.CmdUsers, Reply: protocol.ReplyNames, Src: protocol.ReservedServer,
			Channels: []string{c.Name}, Users: []string{}, Client: protocol.BoolPtr(clientFlag),
		})
	}
}

func (b *Broker) handleMsg(s *registry.Session, msg protocol.Message) {
	dests, ok := b.resolveTargets(msg.Targets)
	if !ok {
		b.enqueueLocked(s, errorMsg(protocol.ErrNonExist, "unresolved target"))
		return
	}
	for _, target := range msg.Targets {
		if protocol.IsChannelName(target) {
			if _, member := s.Channels[target]; !member {
				b.enqueueLocked(s, errorMsg(protocol.ErrNonMember, "not a member of "+target))
				return
			}
		}
	}

	out := protocol.Message{Cmd: protocol.CmdMsg, Reply: protocol.ReplyMsg, Src: s.Nick, Targets: msg.Targets, Msg: msg.Msg}
	for _, dest := range dests {
		b.enqueueLocked(dest, out)
	}
}

func (b *Broker) handleQuit(s *registry.Session, msg protocol.Message, log *slog.Logger) {
	reason := msg.Msg
	if reason == "" {
		reason = "Client Quit"
	}
	b.evictLocked(s, reason, false)
	if log != nil {
		log.Info("session quit", "reason", reason)
	}
}

func (b *Broker) handlePong(s *registry.Session, msg protocol.Message, log *slog.Logger) {
	if s.PendingPing == nil || *s.PendingPing != msg.Msg {
		b.evictLocked(s, reasonUnexpectedPong, false)
		if log != nil {
			log.Info("unexpected pong, evicting")
		}
		return
	}
	s.PendingPing = nil
}

func errorMsg(kind, human string) protocol.Message {
	return protocol.Message{Cmd: protocol.CmdMsg, Src: protocol.ReservedServer, Error: kind, Msg: human}
}
