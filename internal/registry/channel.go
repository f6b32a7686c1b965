package registry

import "sort"

// Channel is a named multicast group. Member is a non-owning reference;
// the SessionRegistry is the sole owner of Sessions.
type Channel struct {
	Name    string
	Members map[string]*Session // keyed by nickname
}

func newChannel(name string) *Channel {
	return &Channel{Name: name, Members: make(map[string]*Session)}
}

// ChannelRegistry is the set of live channels, keyed by name.
type ChannelRegistry struct {
	byName map[string]*Channel
}

// NewChannelRegistry returns an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{byName: make(map[string]*Channel)}
}

// Find returns the channel named name, if it exists.
func (r *ChannelRegistry) Find(name string) (*Channel, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// FindOrCreate returns the channel named name, creating it (empty) if it
// doesn't yet exist.
func (r *ChannelRegistry) FindOrCreate(name string) *Channel {
	if c, ok := r.byName[name]; ok {
		return c
	}
	c := newChannel(name)
	r.byName[name] = c
	return c
}

// AddMember adds s to c's member set. Returns false without mutating
// anything if s was already a member — the double-join rejection the
// dispatcher surfaces as the "member" error.
func (r *ChannelRegistry) AddMember(c *Channel, s *Session) bool {
	if _, ok := c.Members[s.Nick]; ok {
		return false
	}
	c.Members[s.Nick] = s
	s.Channels[c.Name] = struct{}{}
	return true
}

// RemoveMember removes s from c's member set, keeping both sides of the
// membership invariant in sync. A no-op if s was not a member.
func (r *ChannelRegistry) RemoveMember(c *Channel, s *Session) {
	delete(c.Members, s.Nick)
	delete(s.Channels, c.Name)
}

// Members returns c's current members. The order is unspecified.
func (r *ChannelRegistry) Members(c *Channel) []*Session {
	out := make([]*Session, 0, len(c.Members))
	for _, s := range c.Members {
		out = append(out, s)
	}
	return out
}

// AllChannels returns every live channel. The order is unspecified.
func (r *ChannelRegistry) AllChannels() []*Channel {
	out := make([]*Channel, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}

// Names returns the name of every live channel, sorted.
func (r *ChannelRegistry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SweepEmpty destroys every channel with no members, returning how many
// were destroyed. Called once per liveness tick, per §4.7 — channel
// destruction is lazy, never synchronous on the last member leaving.
func (r *ChannelRegistry) SweepEmpty() int {
	n := 0
	for name, c := range r.byName {
		if len(c.Members) == 0 {
			delete(r.byName, name)
			n++
		}
	}
	return n
}
