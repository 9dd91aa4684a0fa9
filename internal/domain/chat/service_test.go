package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/realtime"
)

// -- Mock Repositories --

type mockConversationRepo struct {
	items      map[uuid.UUID]*Conversation
	failCreate bool
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{items: make(map[uuid.UUID]*Conversation)}
}

func (m *mockConversationRepo) Create(_ context.Context, c *Conversation) error {
	if m.failCreate {
		return fmt.Errorf("connection refused")
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	m.items[c.ID] = c
	return nil
}

func (m *mockConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*Conversation, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockConversationRepo) UpdateStatus(_ context.Context, id uuid.UUID, status ConversationStatus) error {
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *mockConversationRepo) UpdatePreview(_ context.Context, id uuid.UUID, body, senderID string, at time.Time) error {
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageBody = &body
	c.LastMessageSenderID = &senderID
	c.LastMessageAt = &at
	return nil
}

type mockIndexRepo struct {
	entries    map[string]*IndexEntry // userID + conversationID
	failUpsert bool
}

func newMockIndexRepo() *mockIndexRepo {
	return &mockIndexRepo{entries: make(map[string]*IndexEntry)}
}

func indexKey(userID string, conversationID uuid.UUID) string {
	return userID + "/" + conversationID.String()
}

func (m *mockIndexRepo) Upsert(_ context.Context, e *IndexEntry) error {
	if m.failUpsert {
		return fmt.Errorf("connection refused")
	}
	cp := *e
	m.entries[indexKey(e.UserID, e.ConversationID)] = &cp
	return nil
}

func (m *mockIndexRepo) ListByUser(_ context.Context, userID string) ([]*IndexEntry, error) {
	var result []*IndexEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	return result, nil
}

func (m *mockIndexRepo) TouchActivity(_ context.Context, conversationID uuid.UUID, at time.Time) error {
	for _, e := range m.entries {
		if e.ConversationID == conversationID && e.LastActivityAt.Before(at) {
			e.LastActivityAt = at
		}
	}
	return nil
}

type mockMessageRepo struct {
	mu         sync.Mutex
	byConv     map[uuid.UUID][]*Message
	nextSeq    int64
	failAppend bool
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{byConv: make(map[uuid.UUID][]*Message)}
}

func (m *mockMessageRepo) Append(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return fmt.Errorf("connection refused")
	}
	m.nextSeq++
	msg.ID = uuid.New()
	msg.Seq = m.nextSeq
	// Deliberately skewed timestamps: retrieval order must come from seq,
	// never from the wall clock.
	msg.CreatedAt = time.Unix(1e9, 0).Add(-time.Duration(m.nextSeq) * time.Minute)
	m.byConv[msg.ConversationID] = append(m.byConv[msg.ConversationID], msg)
	return nil
}

func (m *mockMessageRepo) ListRecent(_ context.Context, conversationID uuid.UUID, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.byConv[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *mockMessageRepo) MarkRead(_ context.Context, conversationID uuid.UUID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated int64
	for _, msg := range m.byConv[conversationID] {
		if msg.SenderID != readerID && msg.Status == MessageSent {
			msg.Status = MessageRead
			updated++
		}
	}
	return updated, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *mockPublisher) Publish(_ context.Context, evt realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *mockPublisher) Events() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Event, len(p.events))
	copy(out, p.events)
	return out
}

type testEnv struct {
	svc       *Service
	convs     *mockConversationRepo
	index     *mockIndexRepo
	msgs      *mockMessageRepo
	publisher *mockPublisher
}

func newTestService() *testEnv {
	env := &testEnv{
		convs:     newMockConversationRepo(),
		index:     newMockIndexRepo(),
		msgs:      newMockMessageRepo(),
		publisher: &mockPublisher{},
	}
	env.svc = NewService(env.convs, env.index, env.msgs, NewBroker(), env.publisher, zerolog.Nop())
	return env
}

func mustInitConversation(t *testing.T, env *testEnv) uuid.UUID {
	t.Helper()
	id, err := env.svc.InitializeConversation(context.Background(),
		Participant{ID: "patient-1", Role: RolePatient},
		Participant{ID: "doctor-1", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("initialize conversation: %v", err)
	}
	return id
}

// -- InitializeConversation --

func TestInitializeConversation_BothParticipantsListIt(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)

	for _, user := range []string{"patient-1", "doctor-1"} {
		convs, err := env.svc.ListUserConversations(context.Background(), user)
		if err != nil {
			t.Fatalf("list for %s: %v", user, err)
		}
		if len(convs) != 1 || convs[0].ID != id {
			t.Errorf("expected %s to list conversation %s, got %v", user, id, convs)
		}
	}
}

func TestInitializeConversation_Validation(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	cases := []struct {
		name                   string
		initiator, counterpart Participant
	}{
		{"empty initiator", Participant{Role: RolePatient}, Participant{ID: "d", Role: RoleDoctor}},
		{"empty counterpart", Participant{ID: "p", Role: RolePatient}, Participant{Role: RoleDoctor}},
		{"same participant", Participant{ID: "p", Role: RolePatient}, Participant{ID: "p", Role: RoleDoctor}},
		{"bad role", Participant{ID: "p", Role: "wizard"}, Participant{ID: "d", Role: RoleDoctor}},
	}
	for _, tc := range cases {
		_, err := env.svc.InitializeConversation(ctx, tc.initiator, tc.counterpart)
		if !isErr(err, ErrCreation) {
			t.Errorf("%s: expected ErrCreation, got %v", tc.name, err)
		}
	}
}

func TestInitializeConversation_StoreFailure(t *testing.T) {
	env := newTestService()
	env.convs.failCreate = true
	_, err := env.svc.InitializeConversation(context.Background(),
		Participant{ID: "p", Role: RolePatient},
		Participant{ID: "d", Role: RoleDoctor})
	if !isErr(err, ErrCreation) {
		t.Fatalf("expected ErrCreation, got %v", err)
	}
}

func TestInitializeConversation_IndexFailureTolerated(t *testing.T) {
	env := newTestService()
	env.index.failUpsert = true

	id, err := env.svc.InitializeConversation(context.Background(),
		Participant{ID: "p", Role: RolePatient},
		Participant{ID: "d", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("expected creation to succeed despite index failure, got %v", err)
	}
	// The conversation itself is reachable.
	if _, err := env.svc.GetConversation(context.Background(), id); err != nil {
		t.Errorf("expected conversation retrievable, got %v", err)
	}
}

func TestListUserConversations_SkipsStaleIndexEntries(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)

	// Simulate a stale index row pointing at a missing conversation.
	ghost := uuid.New()
	env.index.Upsert(context.Background(), &IndexEntry{
		UserID: "patient-1", ConversationID: ghost, Role: RolePatient,
		CounterpartID: "doctor-1", LastActivityAt: time.Now(),
	})

	convs, err := env.svc.ListUserConversations(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != id {
		t.Errorf("expected only the live conversation, got %v", convs)
	}
}

// -- UpdateStatus --

func TestUpdateStatus(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)

	if err := env.svc.UpdateStatus(context.Background(), id, StatusArchived); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := env.svc.GetConversation(context.Background(), id)
	if conv.Status != StatusArchived {
		t.Errorf("expected archived, got %s", conv.Status)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	if err := env.svc.UpdateStatus(context.Background(), id, "deleted"); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	env := newTestService()
	err := env.svc.UpdateStatus(context.Background(), uuid.New(), StatusClosed)
	if !isErr(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// -- SendMessage / Messages --

func TestSendMessage_RetrievalFollowsAppendOrder(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	// The mock store backdates CreatedAt more for later messages, so a
	// timestamp sort would invert this order.
	for _, content := range []string{"first", "second", "third"} {
		if _, err := env.svc.SendMessage(ctx, id, "patient-1", content, MessageText); err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	msgs, err := env.svc.Messages(ctx, id, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("position %d: expected %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func TestSendMessage_UpdatesPreview(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	env.svc.SendMessage(ctx, id, "patient-1", "hello doctor", MessageText)
	env.svc.SendMessage(ctx, id, "doctor-1", "hello patient", MessageText)

	conv, _ := env.svc.GetConversation(ctx, id)
	if conv.LastMessageBody == nil || *conv.LastMessageBody != "hello patient" {
		t.Errorf("expected preview of second message, got %v", conv.LastMessageBody)
	}
	if conv.LastMessageSenderID == nil || *conv.LastMessageSenderID != "doctor-1" {
		t.Errorf("expected sender of second message, got %v", conv.LastMessageSenderID)
	}
}

func TestSendMessage_NonTextPreviewTag(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	env.svc.SendMessage(ctx, id, "patient-1", "https://cdn.example/scan.png", MessageImage)
	conv, _ := env.svc.GetConversation(ctx, id)
	if conv.LastMessageBody == nil || *conv.LastMessageBody != "[image]" {
		t.Errorf("expected [image] preview, got %v", conv.LastMessageBody)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	if _, err := env.svc.SendMessage(ctx, id, "patient-1", "", MessageText); !isErr(err, ErrDelivery) {
		t.Errorf("empty content: expected ErrDelivery, got %v", err)
	}
	if _, err := env.svc.SendMessage(ctx, id, "", "hi", MessageText); !isErr(err, ErrDelivery) {
		t.Errorf("empty sender: expected ErrDelivery, got %v", err)
	}
	if _, err := env.svc.SendMessage(ctx, id, "stranger", "hi", MessageText); !isErr(err, ErrDelivery) {
		t.Errorf("non-participant: expected ErrDelivery, got %v", err)
	}
	if _, err := env.svc.SendMessage(ctx, id, "patient-1", "hi", "carrier-pigeon"); !isErr(err, ErrDelivery) {
		t.Errorf("bad type: expected ErrDelivery, got %v", err)
	}
}

func TestSendMessage_UnknownConversation(t *testing.T) {
	env := newTestService()
	_, err := env.svc.SendMessage(context.Background(), uuid.New(), "patient-1", "hi", MessageText)
	if !isErr(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessage_StoreFailure(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	env.msgs.failAppend = true

	_, err := env.svc.SendMessage(context.Background(), id, "patient-1", "hi", MessageText)
	if !isErr(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestSendMessage_PublishesEvent(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)

	env.svc.SendMessage(context.Background(), id, "patient-1", "hi", MessageText)

	events := env.publisher.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "message.created" || events[0].Topic != realtime.ConversationTopic(id) {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestMessages_ZeroLimit(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	env.svc.SendMessage(context.Background(), id, "patient-1", "hi", MessageText)

	msgs, err := env.svc.Messages(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty result for zero limit, got %d", len(msgs))
	}
}

func TestMessages_WindowKeepsMostRecent(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.svc.SendMessage(ctx, id, "patient-1", fmt.Sprintf("msg-%d", i), MessageText)
	}

	msgs, err := env.svc.Messages(ctx, id, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "msg-3" || msgs[1].Content != "msg-4" {
		t.Errorf("expected last two messages ascending, got %v", msgs)
	}
}

// -- MarkMessagesAsRead --

func TestMarkMessagesAsRead_Idempotent(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	env.svc.SendMessage(ctx, id, "doctor-1", "results are in", MessageText)
	env.svc.SendMessage(ctx, id, "patient-1", "thanks", MessageText)

	for i := 0; i < 3; i++ {
		if err := env.svc.MarkMessagesAsRead(ctx, id, "patient-1"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	msgs, _ := env.svc.Messages(ctx, id, 10)
	for _, m := range msgs {
		if m.SenderID == "doctor-1" && m.Status != MessageRead {
			t.Errorf("expected doctor's message read, got %s", m.Status)
		}
		if m.SenderID == "patient-1" && m.Status != MessageSent {
			t.Errorf("reader's own message must stay sent, got %s", m.Status)
		}
	}
}

// -- Subscribe --

func TestSubscribe_OneEventPerAppend(t *testing.T) {
	env := newTestService()
	id := mustInitConversation(t, env)
	ctx := context.Background()

	sub := env.svc.Subscribe(id)
	defer sub.Close()

	env.svc.SendMessage(ctx, id, "patient-1", "one", MessageText)
	env.svc.SendMessage(ctx, id, "doctor-1", "two", MessageText)

	for _, want := range []string{"one", "two"} {
		select {
		case m := <-sub.C:
			if m.Content != want {
				t.Errorf("expected %q, got %q", want, m.Content)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	select {
	case m := <-sub.C:
		t.Errorf("unexpected extra event: %v", m)
	default:
	}
}

// -- ReconcileIndex --

func TestReconcileIndex_RepairsMissingRows(t *testing.T) {
	env := newTestService()
	env.index.failUpsert = true
	id, err := env.svc.InitializeConversation(context.Background(),
		Participant{ID: "patient-1", Role: RolePatient},
		Participant{ID: "doctor-1", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Neither participant sees the conversation yet.
	convs, _ := env.svc.ListUserConversations(context.Background(), "patient-1")
	if len(convs) != 0 {
		t.Fatalf("expected empty listing before repair, got %d", len(convs))
	}

	env.index.failUpsert = false
	if err := env.svc.ReconcileIndex(context.Background(), id); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, user := range []string{"patient-1", "doctor-1"} {
		convs, _ := env.svc.ListUserConversations(context.Background(), user)
		if len(convs) != 1 {
			t.Errorf("expected %s to list the conversation after repair", user)
		}
	}

	// Running it again changes nothing.
	if err := env.svc.ReconcileIndex(context.Background(), id); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	convs, _ = env.svc.ListUserConversations(context.Background(), "patient-1")
	if len(convs) != 1 {
		t.Errorf("expected repair to stay idempotent, got %d entries", len(convs))
	}
}

func TestReconcileIndex_UnknownConversation(t *testing.T) {
	env := newTestService()
	if err := env.svc.ReconcileIndex(context.Background(), uuid.New()); !isErr(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}
