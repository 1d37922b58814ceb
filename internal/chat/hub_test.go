package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// memoryStore implements MessageStore without a database. Ids are assigned
// in insertion order, matching the SERIAL column of the real store.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	messages  []Message
	insertErr error
	queryErr  error
}

func (s *memoryStore) InsertMessage(_ context.Context, m *Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	stored := *m
	stored.ID = s.nextID
	s.messages = append(s.messages, stored)
	return s.nextID, nil
}

func (s *memoryStore) GlobalHistory(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []Message
	for _, m := range s.messages {
		if m.Receiver == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) DirectHistory(_ context.Context, a, b string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []Message
	for _, m := range s.messages {
		if m.Receiver == nil {
			continue
		}
		r := *m.Receiver
		if (m.Sender == a && r == b) || (m.Sender == b && r == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) seed(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	s.nextID = int64(len(s.messages))
}

func (s *memoryStore) stored() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// memoryBroker is an in-process Broker: every published payload loops back
// to every subscriber, the same contract the Redis channel provides.
type memoryBroker struct {
	mu   sync.Mutex
	subs []chan []byte
}

func (b *memoryBroker) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub <- payload
	}
	return nil
}

func (b *memoryBroker) Subscribe(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (b *memoryBroker) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type hubFixture struct {
	hub      *Hub
	registry *Registry
	store    *memoryStore
	broker   *memoryBroker
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &hubFixture{
		registry: NewRegistry(),
		store:    &memoryStore{},
		broker:   &memoryBroker{},
	}
	f.hub = NewHub(f.registry, f.store, f.broker, nil)
	go f.hub.Run(ctx)
	go f.hub.SubscribeBroker(ctx)

	// Nothing published before the subscription exists would be seen.
	require.Eventually(t, func() bool {
		return f.broker.subscriberCount() > 0
	}, time.Second, time.Millisecond)
	return f
}

// join registers a fake connection the way a read pump would after a join
// event. The nil websocket conn is never touched because frames are read
// straight off the send channel.
func (f *hubFixture) join(username string) *Client {
	c := &Client{hub: f.hub, send: make(chan []byte, 16), user: username}
	f.hub.Join(c, username)
	return c
}

// bareClient is a connection that never joined. It can still request history,
// but fan-out never targets it, which keeps history assertions free of
// in-flight deliveries.
func bareClient(username string) *Client {
	return &Client{send: make(chan []byte, 16), user: username}
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return Event{}
	}
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	ev := recvEvent(t, c)
	require.Equal(t, EventReceiveMessage, ev.Name)
	var msg Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	return msg
}

func recvHistory(t *testing.T, c *Client) HistoryResponse {
	t.Helper()
	ev := recvEvent(t, c)
	require.Equal(t, EventHistory, ev.Name)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(ev.Data, &resp))
	return resp
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("expected no frame, got %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDirectMessageDeliveryTargets(t *testing.T) {
	f := newHubFixture(t)

	aliceLaptop := f.join("alice")
	alicePhone := f.join("alice")
	bob := f.join("bob")
	carol := f.join("carol")

	f.hub.Send(context.Background(), SendPayload{
		Text:     "hi bob",
		Sender:   "alice",
		Receiver: lo.ToPtr("bob"),
	})

	// Every connection of sender and receiver gets exactly one copy.
	for _, c := range []*Client{aliceLaptop, alicePhone, bob} {
		msg := recvMessage(t, c)
		require.Equal(t, "hi bob", msg.Body)
		require.Equal(t, "alice", msg.Sender)
		require.Equal(t, "bob", *msg.Receiver)
		require.Equal(t, KindText, msg.Kind)
		require.Regexp(t, `^\d{2}:\d{2}$`, msg.SentAt)
		require.Positive(t, msg.ID)
	}

	// Uninvolved parties see nothing, and nobody gets a second copy.
	assertSilent(t, carol)
	assertSilent(t, bob)
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	f := newHubFixture(t)

	clients := []*Client{f.join("alice"), f.join("alice"), f.join("bob"), f.join("carol")}

	f.hub.Send(context.Background(), SendPayload{Text: "hello room", Sender: "alice"})

	for _, c := range clients {
		msg := recvMessage(t, c)
		require.Equal(t, "hello room", msg.Body)
		require.Nil(t, msg.Receiver)
	}
}

func TestDirectMessageToOfflineReceiver(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join("alice")

	// "ghost" has no live connections; an unknown username looks the same.
	f.hub.Send(context.Background(), SendPayload{
		Text:     "anyone there?",
		Sender:   "alice",
		Receiver: lo.ToPtr("ghost"),
	})

	msg := recvMessage(t, alice)
	require.Equal(t, "anyone there?", msg.Body)

	stored := f.store.stored()
	require.Len(t, stored, 1)
	require.Equal(t, "ghost", *stored[0].Receiver)
}

func TestBroadcastPersistsWithNoListeners(t *testing.T) {
	f := newHubFixture(t)

	f.hub.Send(context.Background(), SendPayload{Text: "into the void", Sender: "alice"})

	require.Len(t, f.store.stored(), 1)

	// A later connection sees it through history.
	late := bareClient("bob")
	f.hub.History(context.Background(), late, HistoryRequest{Scope: ScopeGlobal})

	resp := recvHistory(t, late)
	require.Equal(t, ScopeGlobal, resp.Scope)
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "into the void", resp.Messages[0].Body)
}

func TestPersistenceFailureSuppressesDelivery(t *testing.T) {
	f := newHubFixture(t)
	f.store.insertErr = errors.New("connection refused")

	alice := f.join("alice")
	bob := f.join("bob")

	f.hub.Send(context.Background(), SendPayload{
		Text:     "doomed",
		Sender:   "alice",
		Receiver: lo.ToPtr("bob"),
	})

	// Nothing delivered, nothing stored, and the sender is not told either.
	assertSilent(t, alice)
	assertSilent(t, bob)
	require.Empty(t, f.store.stored())

	f.store.insertErr = nil
	f.hub.History(context.Background(), alice, HistoryRequest{Scope: ScopeDirect, A: "alice", B: "bob"})
	require.Empty(t, recvHistory(t, alice).Messages)
}

func TestDirectHistoryOrderAndSymmetry(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	f.hub.Send(ctx, SendPayload{Text: "one", Sender: "alice", Receiver: lo.ToPtr("bob")})
	f.hub.Send(ctx, SendPayload{Text: "two", Sender: "bob", Receiver: lo.ToPtr("alice")})
	f.hub.Send(ctx, SendPayload{Text: "three", Sender: "alice", Receiver: lo.ToPtr("bob")})

	c := bareClient("carol")
	for _, req := range []HistoryRequest{
		{Scope: ScopeDirect, A: "alice", B: "bob"},
		{Scope: ScopeDirect, A: "bob", B: "alice"},
	} {
		f.hub.History(ctx, c, req)
		resp := recvHistory(t, c)

		// Both directions merged, in creation order, whichever way the
		// pair is named.
		require.Equal(t, []string{"one", "two", "three"}, lo.Map(resp.Messages, func(m Message, _ int) string {
			return m.Body
		}))
		require.IsIncreasing(t, lo.Map(resp.Messages, func(m Message, _ int) int64 {
			return m.ID
		}))
	}
}

func TestHistoryScopesArePartitioned(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	f.hub.Send(ctx, SendPayload{Text: "private", Sender: "alice", Receiver: lo.ToPtr("bob")})
	f.hub.Send(ctx, SendPayload{Text: "public", Sender: "carol"})

	c := bareClient("alice")

	f.hub.History(ctx, c, HistoryRequest{Scope: ScopeGlobal})
	global := recvHistory(t, c)
	require.Len(t, global.Messages, 1)
	require.Equal(t, "public", global.Messages[0].Body)

	f.hub.History(ctx, c, HistoryRequest{Scope: ScopeDirect, A: "alice", B: "bob"})
	direct := recvHistory(t, c)
	require.Len(t, direct.Messages, 1)
	require.Equal(t, "private", direct.Messages[0].Body)
}

func TestHistoryGoesOnlyToRequester(t *testing.T) {
	f := newHubFixture(t)
	f.store.seed(Message{ID: 1, Body: "old news", Sender: "carol", SentAt: "09:30", Kind: KindText})

	alice := f.join("alice")
	bob := f.join("bob")

	f.hub.History(context.Background(), alice, HistoryRequest{Scope: ScopeGlobal})

	resp := recvHistory(t, alice)
	require.Len(t, resp.Messages, 1)
	assertSilent(t, bob)
}

func TestHistoryFailureProducesNoResponse(t *testing.T) {
	f := newHubFixture(t)
	f.store.queryErr = errors.New("connection refused")

	alice := f.join("alice")
	f.hub.History(context.Background(), alice, HistoryRequest{Scope: ScopeGlobal})

	assertSilent(t, alice)
}

func TestStaleConnectionDropped(t *testing.T) {
	f := newHubFixture(t)

	// No buffer and no reader: the first delivery attempt cannot be queued.
	stale := &Client{hub: f.hub, send: make(chan []byte), user: "dave"}
	f.hub.Join(stale, "dave")
	live := f.join("eve")

	f.hub.Send(context.Background(), SendPayload{Text: "ping", Sender: "eve"})

	recvMessage(t, live)
	require.Eventually(t, func() bool {
		return len(f.registry.ConnectionsFor("dave")) == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-stale.send
	require.False(t, open, "send channel should be closed after the drop")
}

func TestSendDefaultsKindToText(t *testing.T) {
	f := newHubFixture(t)

	f.hub.Send(context.Background(), SendPayload{Text: "plain", Sender: "alice"})

	stored := f.store.stored()
	require.Len(t, stored, 1)
	require.Equal(t, KindText, stored[0].Kind)
}

func TestSendFileMessageCarriesAttachment(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join("alice")
	f.hub.Send(context.Background(), SendPayload{
		Sender:     "alice",
		Kind:       KindFile,
		Attachment: "/uploads/cat.png",
	})

	msg := recvMessage(t, alice)
	require.Equal(t, KindFile, msg.Kind)
	require.Equal(t, "/uploads/cat.png", msg.Attachment)
}

func TestSendDropsInvalidPayloads(t *testing.T) {
	f := newHubFixture(t)
	alice := f.join("alice")

	// Missing sender.
	f.hub.Send(context.Background(), SendPayload{Text: "who am I"})
	// File message without an attachment reference.
	f.hub.Send(context.Background(), SendPayload{Sender: "alice", Kind: KindFile})

	assertSilent(t, alice)
	require.Empty(t, f.store.stored())
}

func TestHandleEventDispatch(t *testing.T) {
	f := newHubFixture(t)

	c := &Client{hub: f.hub, send: make(chan []byte, 16), user: "alice"}
	f.hub.HandleEvent(c, []byte(`{"event":"join","data":{"username":"alice"}}`))
	require.Len(t, f.registry.ConnectionsFor("alice"), 1)

	f.hub.HandleEvent(c, []byte(`{"event":"sendMessage","data":{"text":"via frame","sender":"alice"}}`))
	msg := recvMessage(t, c)
	require.Equal(t, "via frame", msg.Body)

	f.hub.HandleEvent(c, []byte(`{"event":"getHistory","data":{"scope":"global"}}`))
	resp := recvHistory(t, c)
	require.Len(t, resp.Messages, 1)

	// Garbage and unknown events are dropped without a reply.
	f.hub.HandleEvent(c, []byte(`{not json`))
	f.hub.HandleEvent(c, []byte(`{"event":"selfDestruct"}`))
	assertSilent(t, c)
}

// A join frame with no username falls back to the authenticated identity
// from the upgrade.
func TestHandleEventJoinFallsBackToAuthenticatedUser(t *testing.T) {
	f := newHubFixture(t)

	c := &Client{hub: f.hub, send: make(chan []byte, 16), user: "alice"}
	f.hub.HandleEvent(c, []byte(`{"event":"join"}`))

	require.Len(t, f.registry.ConnectionsFor("alice"), 1)
}

func TestHistoryAfterClientDropped(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join("alice")
	f.hub.unregister <- alice
	// The close is the last step of the teardown, so once it is visible the
	// registry entry is gone too.
	require.Eventually(t, alice.isClosed, time.Second, 10*time.Millisecond)

	// The read pump can still be mid-event when the teardown lands.
	f.hub.History(context.Background(), alice, HistoryRequest{Scope: ScopeGlobal})

	_, open := <-alice.send
	require.False(t, open, "send channel should stay closed")
}

func TestRejoinAfterDropRefused(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join("alice")
	f.hub.unregister <- alice
	require.Eventually(t, alice.isClosed, time.Second, 10*time.Millisecond)

	f.hub.Join(alice, "alice")

	require.Empty(t, f.registry.ConnectionsFor("alice"))
}

func TestDeliveryDropsTornDownClient(t *testing.T) {
	f := newHubFixture(t)

	live := f.join("bob")
	ghost := f.join("alice")
	f.hub.unregister <- ghost
	require.Eventually(t, ghost.isClosed, time.Second, 10*time.Millisecond)

	// A join can race its own teardown. Force the lost race by putting the
	// closed connection straight back into the registry.
	f.registry.Join(ghost, "alice")

	f.hub.Send(context.Background(), SendPayload{Text: "hello", Sender: "bob"})

	msg := recvMessage(t, live)
	require.Equal(t, "hello", msg.Body)
	require.Eventually(t, func() bool {
		return len(f.registry.ConnectionsFor("alice")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDeliverIgnoresForeignBrokerEvents(t *testing.T) {
	f := newHubFixture(t)
	alice := f.join("alice")

	foreign, err := marshalEvent("presence", JoinPayload{Username: "mallory"})
	require.NoError(t, err)
	require.NoError(t, f.broker.Publish(context.Background(), foreign))

	f.hub.Send(context.Background(), SendPayload{Text: "real", Sender: "alice"})

	msg := recvMessage(t, alice)
	require.Equal(t, "real", msg.Body)
	assertSilent(t, alice)
}
