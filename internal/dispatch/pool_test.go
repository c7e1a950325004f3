package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/choptalini/chatbot/internal/agent"
	"github.com/choptalini/chatbot/internal/broadcast"
	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/tools"
	"github.com/choptalini/chatbot/internal/usage"
)

type fakeDispatchStore struct {
	store.Store
	contact *store.Contact
	paused  bool
}

func (f *fakeDispatchStore) GetOrCreateContact(ctx context.Context, tenantID store.TenantID, chatbotID store.ChatbotID, phoneNumber, displayName string) (*store.Contact, error) {
	return f.contact, nil
}
func (f *fakeDispatchStore) TouchLastInteraction(ctx context.Context, tenantID store.TenantID, contactID store.ContactID, at time.Time) error {
	return nil
}
func (f *fakeDispatchStore) InsertIncomingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	return 1, nil
}
func (f *fakeDispatchStore) InsertOutgoingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	return 2, nil
}
func (f *fakeDispatchStore) InsertInternalMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	return 3, nil
}
func (f *fakeDispatchStore) UpdateMessageStatus(ctx context.Context, tenantID store.TenantID, id store.MessageID, status store.MessageStatus, errText string) error {
	return nil
}
func (f *fakeDispatchStore) IsPaused(ctx context.Context, tenantID store.TenantID, contactID store.ContactID) (bool, error) {
	return f.paused, nil
}
func (f *fakeDispatchStore) ChatbotBySenderMSISDN(ctx context.Context, senderMSISDN string) (*store.Chatbot, error) {
	return &store.Chatbot{ID: 1, AgentID: "test-agent"}, nil
}
func (f *fakeDispatchStore) Limits(ctx context.Context, id store.TenantID) (*store.Limits, error) {
	return &store.Limits{}, nil
}
func (f *fakeDispatchStore) UsageToday(ctx context.Context, id store.TenantID, day time.Time) (*store.UsageCounter, error) {
	return &store.UsageCounter{}, nil
}
func (f *fakeDispatchStore) IncrementUsage(ctx context.Context, id store.TenantID, day time.Time) (*store.UsageCounter, error) {
	return &store.UsageCounter{OutboundCount: 1}, nil
}

type fakeTransport struct {
	sent []string
}

func (f *fakeTransport) SendText(ctx context.Context, transportRef, toNumber, text string) (string, error) {
	f.sent = append(f.sent, text)
	return "wamid.1", nil
}
func (f *fakeTransport) SendImage(ctx context.Context, transportRef, toNumber, imageURL, caption string) (string, error) {
	return "", nil
}
func (f *fakeTransport) SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (string, error) {
	return "", nil
}
func (f *fakeTransport) SendTemplate(ctx context.Context, transportRef, toNumber, templateName string, variables, buttons []string) (string, error) {
	return "", nil
}
func (f *fakeTransport) HeadMedia(ctx context.Context, transportRef, mediaURL string) (int64, string, error) {
	return 0, "", nil
}
func (f *fakeTransport) FetchMedia(ctx context.Context, transportRef, mediaURL string) ([]byte, string, error) {
	return nil, "", nil
}

type stubAgent struct{}

func (stubAgent) Run(ctx context.Context, threadID store.ThreadID, turnCtx agent.TurnContext, mergedInput string) (<-chan agent.Event, error) {
	ch := make(chan agent.Event, 1)
	ch <- agent.Event{Kind: agent.EventFinal, FinalText: "hello back"}
	close(ch)
	return ch, nil
}
func (stubAgent) Continue(ctx context.Context, threadID store.ThreadID, result agent.ToolResult) (<-chan agent.Event, error) {
	ch := make(chan agent.Event)
	close(ch)
	return ch, nil
}

func newTestPool(t *testing.T, st *fakeDispatchStore) (*Pool, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	registry := agent.NewRegistry(map[store.AgentID]agent.Agent{"test-agent": stubAgent{}})
	toolReg := tools.NewRegistry()
	enforcer := usage.New(st, nil)
	hub := broadcast.New()

	pool := NewPool(context.Background(), Config{
		Workers:         2,
		QueueCapacity:   4,
		AgentDeadline:   time.Second,
		EnqueueDeadline: 100 * time.Millisecond,
		Store:           st,
		Transport:       tr,
		Agents:          registry,
		Tools:           toolReg,
		Usage:           enforcer,
		Hub:             hub,
	})
	return pool, tr
}

func TestPool_ProcessesTurnAndSendsFinalText(t *testing.T) {
	st := &fakeDispatchStore{contact: &store.Contact{ID: 9}}
	pool, tr := newTestPool(t, st)

	turn := debounce.Turn{TenantID: 1, ChatbotID: 1, ContactID: 9, SenderMSISDN: "15550000", TransportRef: "15559999", MergedText: "hi"}
	deferred := pool.Submit(turn)
	if deferred {
		t.Fatal("first submit for an idle conversation must not be deferred")
	}

	time.Sleep(200 * time.Millisecond)

	if len(tr.sent) != 1 || tr.sent[0] != "hello back" {
		t.Errorf("expected final agent text to be sent, got %v", tr.sent)
	}
}

func TestPool_SkipsAgentWhenPaused(t *testing.T) {
	st := &fakeDispatchStore{contact: &store.Contact{ID: 9}, paused: true}
	pool, tr := newTestPool(t, st)

	turn := debounce.Turn{TenantID: 1, ChatbotID: 1, ContactID: 9, SenderMSISDN: "15550000", TransportRef: "15559999", MergedText: "hi"}
	pool.Submit(turn)

	time.Sleep(200 * time.Millisecond)

	if len(tr.sent) != 0 {
		t.Errorf("expected no outbound send for a paused contact, got %v", tr.sent)
	}
}

func TestPool_SingleFlightDefersSecondSubmitForSameKey(t *testing.T) {
	st := &fakeDispatchStore{contact: &store.Contact{ID: 9}}
	pool, _ := newTestPool(t, st)

	// Occupy the in-flight slot directly to simulate a Turn already running.
	key := debounce.Key{TenantID: 1, ContactID: 9}
	if !pool.inFlight.tryAcquire(key) {
		t.Fatal("setup: expected to acquire in-flight slot")
	}
	defer pool.inFlight.release(key)

	turn := debounce.Turn{TenantID: 1, ChatbotID: 1, ContactID: 9, SenderMSISDN: "15550000", TransportRef: "15559999"}
	if deferred := pool.Submit(turn); !deferred {
		t.Error("expected Submit to report deferred for an in-flight conversation_key")
	}
}
