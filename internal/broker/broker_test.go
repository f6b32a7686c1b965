package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"chatbroker/internal/protocol"
)

// testClient is a thin JSON-frame reader/writer over a real TCP
// connection, used to drive the broker end to end the way a real client
// would, per §8's concrete scenarios.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialBroker(t *testing.T, addr string) *testClient {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if _, err := c.conn.Write(append(b, '\r', '\n')); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		c.t.Fatalf("unmarshal %q: %v", line, err)
	}
	return msg
}

func startBroker(t *testing.T) (*Broker, func()) {
	t.Helper()
	b := New(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	for i := 0; i < 100 && b.Addr() == ""; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Addr() == "" {
		t.Fatalf("broker never bound a listener")
	}
	return b, func() {
		cancel()
		<-done
	}
}

// TestWelcomeAssignsNick covers the initial NEWUSER->generated-nick
// rename every new connection receives before doing anything else.
func TestWelcomeAssignsNick(t *testing.T) {
	b, stop := startBroker(t)
	defer stop()

	c := dialBroker(t, b.Addr())
	defer c.conn.Close()

	welcome := c.recv()
	if welcome.Cmd != protocol.CmdNick || welcome.Src != protocol.ReservedNewUser || welcome.Update == "" {
		t.Fatalf("unexpected welcome frame: %#v", welcome)
	}
}

// TestJoinLazyCreatesChannel is scenario 1 of §8.
func TestJoinLazyCreatesChannel(t *testing.T) {
	b, stop := startBroker(t)
	defer stop()

	a := dialBroker(t, b.Addr())
	defer a.conn.Close()
	welcome := a.recv()
	nick := welcome.Update

	a.send(protocol.Message{Cmd: protocol.CmdJoin, Src: nick, Channels: []string{"#x"}})

	join := a.recv()
	if join.Cmd != protocol.CmdJoin || join.Src != nick || len(join.Channels) != 1 || join.Channels[0] != "#x" {
		t.Fatalf("unexpected join reply: %#v", join)
	}
	names := a.recv()
	if len(names.Users) != 1 || names.Users[0] != nick {
		t.Fatalf("unexpected names chunk: %#v", names)
	}
	term := a.recv()
	if len(term.Users) != 0 || term.Client == nil || *term.Client {
		t.Fatalf("unexpected names terminator: %#v", term)
	}
}

// TestMsgFansOutToChannel is scenario 2 of §8.
func TestMsgFansOutToChannel(t *testing.T) {
	b, stop := startBroker(t)
	defer stop()

	a := dialBroker(t, b.Addr())
	defer a.conn.Close()
	aNick := a.recv().Update
	a.send(protocol.Message{Cmd: protocol.CmdJoin, Src: aNick, Channels: []string{"#x"}})
	a.recv() // join
	a.recv() // names chunk
	a.recv() // names terminator

	bb := dialBroker(t, b.Addr())
	defer bb.conn.Close()
	bNick := bb.recv().Update
	bb.send(protocol.Message{Cmd: protocol.CmdJoin, Src: bNick, Channels: []string{"#x"}})
	a.recv()   // join announcement to A about B
	bb.recv()  // join reply to B
	bb.recv()  // names chunk
	bb.recv()  // names terminator

	a.send(protocol.Message{Cmd: protocol.CmdMsg, Src: aNick, Targets: []string{"#x"}, Msg: "hi"})

	gotA := a.recv()
	gotB := bb.recv()
	for _, got := range []protocol.Message{gotA, gotB} {
		if got.Cmd != protocol.CmdMsg || got.Src != aNick || got.Msg != "hi" {
			t.Fatalf("unexpected msg fan-out: %#v", got)
		}
	}
}

// TestNickConflict is scenario 3 of §8.
func TestNickConflict(t *testing.T) {
	b, stop := startBroker(t)
	defer stop()

	a := dialBroker(t, b.Addr())
	defer a.conn.Close()
	aNick := a.recv().Update

	bb := dialBroker(t, b.Addr())
	defer bb.conn.Close()
	bNick := bb.recv().Update

	bb.send(protocol.Message{Cmd: protocol.CmdNick, Src: bNick, Update: aNick})
	reply := bb.recv()
	if reply.Error != protocol.ErrBadNick {
		t.Fatalf("unexpected reply to nick conflict: %#v", reply)
	}
}

// TestSpoofRejection is scenario 4 of §8.
func TestSpoofRejection(t *testing.T) {
	b, stop := startBroker(t)
	defer stop()

	a := dialBroker(t, b.Addr())
	defer a.conn.Close()
	a.recv() // welcome

	a.send(protocol.Message{Cmd: protocol.CmdMsg, Src: "not-me", Targets: []string{"SERVER"}, Msg: "hi"})
	reply := a.recv()
	if reply.Error != protocol.ErrSchema {
		t.Fatalf("unexpected reply to spoofed src: %#v", reply)
	}
}

// TestOrderedShutdown is scenario 6 of §8.
func TestOrderedShutdown(t *testing.T) {
	b := New(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	for i := 0; i < 100 && b.Addr() == ""; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	c := dialBroker(t, b.Addr())
	defer c.conn.Close()
	c.recv() // welcome

	cancel()
	quit := c.recv()
	if quit.Cmd != protocol.CmdQuit || quit.Src != protocol.ReservedServer || quit.Msg != reasonServerShutdown {
		t.Fatalf("unexpected shutdown quit frame: %#v", quit)
	}
	<-done
}
