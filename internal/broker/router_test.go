package broker

import "testing"

func TestResolveTargetsDedupesAcrossNickAndChannel(t *testing.T) {
	b := newTestBroker()
	a := addTestSession(b, "alice")
	bob := addTestSession(b, "bob")
	c := b.channels.FindOrCreate("#x")
	b.channels.AddMember(c, a)
	b.channels.AddMember(c, bob)

	dests, ok := b.resolveTargets([]string{"#x", "bob"})
	if !ok {
		t.Fatalf("resolveTargets returned ok=false")
	}
	if len(dests) != 2 {
		t.Fatalf("len(dests) = %d, want 2 (deduplicated)", len(dests))
	}
}

func TestResolveTargetsFailsOnUnknownChannel(t *testing.T) {
	b := newTestBroker()
	if _, ok := b.resolveTargets([]string{"#ghost"}); ok {
		t.Fatalf("resolveTargets succeeded for a nonexistent channel")
	}
}

func TestResolveTargetsFailsOnUnknownNick(t *testing.T) {
	b := newTestBroker()
	if _, ok := b.resolveTargets([]string{"ghost"}); ok {
		t.Fatalf("resolveTargets succeeded for a nonexistent nick")
	}
}
