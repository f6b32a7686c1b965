package broker

import (
	"chatbroker/internal/protocol"
	"chatbroker/internal/registry"
)

// resolveTargets expands a msg command's target list into the
// deduplicated set of destination sessions. A target is either a
// nickname or a channel name; channel names expand to every member.
// Duplicates — a session in two target channels, or a session both
// directly addressed and a channel member — collapse to one delivery.
// ok is false if any target names neither a live session nor a live
// channel.
func (b *Broker) resolveTargets(targets []string) (dests []*registry.Session, ok bool) {
	seen := make(map[string]*registry.Session)
	for _, t := range targets {
		if protocol.IsChannelName(t) {
			c, found := b.channels.Find(t)
			if !found {
				return nil, false
			}
			for _, m := range b.channels.Members(c) {
				seen[m.Nick] = m
			}
			continue
		}
		s, found := b.sessions.LookupByName(t)
		if !found {
			return nil, false
		}
		seen[s.Nick] = s
	}
	out := make([]*registry.Session, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out, true
}
