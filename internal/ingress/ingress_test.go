package ingress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/choptalini/chatbot/internal/broadcast"
	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/store"
)

type fakeIngressStore struct {
	store.Store
	contact          *store.Contact
	chatbot          *store.Chatbot
	message          *store.Message
	action           *store.Action
	resolvedStatuses []store.MessageStatus
	actionResolved   bool
	knowledgeUpserts int
}

func (f *fakeIngressStore) GetOrCreateContact(ctx context.Context, tenantID store.TenantID, chatbotID store.ChatbotID, phoneNumber, displayName string) (*store.Contact, error) {
	return f.contact, nil
}
func (f *fakeIngressStore) Contact(ctx context.Context, tenantID store.TenantID, contactID store.ContactID) (*store.Contact, error) {
	return f.contact, nil
}
func (f *fakeIngressStore) ChatbotByID(ctx context.Context, tenantID store.TenantID, chatbotID store.ChatbotID) (*store.Chatbot, error) {
	return f.chatbot, nil
}
func (f *fakeIngressStore) MessageByID(ctx context.Context, tenantID store.TenantID, messageID store.MessageID) (*store.Message, error) {
	return f.message, nil
}
func (f *fakeIngressStore) UpdateMessageStatus(ctx context.Context, tenantID store.TenantID, id store.MessageID, status store.MessageStatus, errText string) error {
	f.resolvedStatuses = append(f.resolvedStatuses, status)
	f.message.Status = status
	return nil
}
func (f *fakeIngressStore) UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID string, status store.MessageStatus) error {
	return nil
}
func (f *fakeIngressStore) Action(ctx context.Context, tenantID store.TenantID, actionID store.ActionID) (*store.Action, error) {
	return f.action, nil
}
func (f *fakeIngressStore) ResolveAction(ctx context.Context, tenantID store.TenantID, actionID store.ActionID, status store.ActionStatus, userResponse string, responseData []byte) error {
	f.actionResolved = true
	f.action.Status = status
	return nil
}
func (f *fakeIngressStore) UpdateActionIndicatorMessage(ctx context.Context, tenantID store.TenantID, actionID store.ActionID, status store.ActionStatus) error {
	return nil
}
func (f *fakeIngressStore) InsertOutgoingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	return 1, nil
}
func (f *fakeIngressStore) UpsertKnowledgeEntry(ctx context.Context, e *store.KnowledgeEntry) error {
	f.knowledgeUpserts++
	return nil
}

type fakeIngressTransport struct {
	sent []string
}

func (f *fakeIngressTransport) SendText(ctx context.Context, transportRef, toNumber, text string) (string, error) {
	f.sent = append(f.sent, text)
	return "wamid.1", nil
}
func (f *fakeIngressTransport) SendImage(ctx context.Context, transportRef, toNumber, imageURL, caption string) (string, error) {
	return "", nil
}
func (f *fakeIngressTransport) SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (string, error) {
	return "", nil
}
func (f *fakeIngressTransport) SendTemplate(ctx context.Context, transportRef, toNumber, templateName string, variables, buttons []string) (string, error) {
	return "", nil
}
func (f *fakeIngressTransport) HeadMedia(ctx context.Context, transportRef, mediaURL string) (int64, string, error) {
	return 0, "", nil
}
func (f *fakeIngressTransport) FetchMedia(ctx context.Context, transportRef, mediaURL string) ([]byte, string, error) {
	return nil, "", nil
}

func newTestServer(st *fakeIngressStore, tr *fakeIngressTransport, secret string) *Server {
	d := debounce.New(20*time.Millisecond, 500*time.Millisecond, func(debounce.Turn) bool { return false })
	return New(Config{
		Host:          "127.0.0.1",
		Port:          0,
		Store:         st,
		Debouncer:     d,
		Hub:           broadcast.New(),
		Transport:     tr,
		Respond:       DefaultResponder,
		ShopifySecret: secret,
	})
}

func TestHandleManualMessage_IdempotentOnReplay(t *testing.T) {
	st := &fakeIngressStore{
		contact: &store.Contact{ID: 1, PhoneNumber: "15550000"},
		chatbot: &store.Chatbot{ID: 1, SenderMSISDN: "15559999"},
		message: &store.Message{ID: 42, Status: store.StatusPending},
	}
	tr := &fakeIngressTransport{}
	s := newTestServer(st, tr, "")

	body, _ := json.Marshal(manualMessageRequest{MessageID: 42, ContactID: 1, ContentText: "hi", TenantID: 1})

	req1 := httptest.NewRequest(http.MethodPost, "/manual-message", bytes.NewReader(body))
	w1 := httptest.NewRecorder()
	s.handleManualMessage(w1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/manual-message", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	s.handleManualMessage(w2, req2)

	if len(tr.sent) != 1 {
		t.Fatalf("expected exactly one transport send across two deliveries, got %d", len(tr.sent))
	}
}

func TestHandleActionFeedback_IdempotentOnReplay(t *testing.T) {
	st := &fakeIngressStore{
		contact: &store.Contact{ID: 1, PhoneNumber: "15550000"},
		chatbot: &store.Chatbot{ID: 1, SenderMSISDN: "15559999"},
		action:  &store.Action{ID: 7, Status: store.ActionPending, RequestType: "refund_request"},
	}
	tr := &fakeIngressTransport{}
	s := newTestServer(st, tr, "")

	body, _ := json.Marshal(actionFeedbackRequest{ActionID: 7, Status: "approved", TenantID: 1})

	req1 := httptest.NewRequest(http.MethodPost, "/action-feedback", bytes.NewReader(body))
	w1 := httptest.NewRecorder()
	s.handleActionFeedback(w1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/action-feedback", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	s.handleActionFeedback(w2, req2)

	if len(tr.sent) != 1 {
		t.Fatalf("expected exactly one transport send across two deliveries, got %d", len(tr.sent))
	}
}

func TestHandleShopifyWebhook_RejectsBadSignature(t *testing.T) {
	st := &fakeIngressStore{}
	s := newTestServer(st, &fakeIngressTransport{}, "shared-secret")

	body := []byte(`{"title":"Widget"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/shopify", bytes.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-Sha256", base64.StdEncoding.EncodeToString([]byte("wrong")))
	w := httptest.NewRecorder()

	s.handleShopifyWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandleShopifyWebhook_AcceptsValidSignature(t *testing.T) {
	secret := "shared-secret"
	st := &fakeIngressStore{}
	s := newTestServer(st, &fakeIngressTransport{}, secret)

	body := []byte(`{"title":"Widget","product_type":"accessories","body_html":"<p>desc</p>"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/shopify?tenant_id=1&chatbot_id=1", bytes.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-Sha256", sig)
	req.Header.Set("X-Shopify-Topic", "products/update")
	w := httptest.NewRecorder()

	s.handleShopifyWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	time.Sleep(50 * time.Millisecond)
	if st.knowledgeUpserts != 1 {
		t.Errorf("knowledgeUpserts = %d, want 1", st.knowledgeUpserts)
	}
}

func TestHandleWebhook_RejectsUnparseableBody(t *testing.T) {
	st := &fakeIngressStore{}
	s := newTestServer(st, &fakeIngressTransport{}, "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	s.handleWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := NewWebhookRateLimiter()
	allowed := 0
	for i := 0; i < rateLimitMaxHits+5; i++ {
		if rl.Allow("1.2.3.4") {
			allowed++
		}
	}
	if allowed != rateLimitMaxHits {
		t.Errorf("allowed = %d, want %d", allowed, rateLimitMaxHits)
	}
}
