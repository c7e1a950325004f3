package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/choptalini/chatbot/internal/store"
)

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

type shopifyProduct struct {
	Title       string `json:"title"`
	ProductType string `json:"product_type"`
	BodyHTML    string `json:"body_html"`
}

// handleShopifyWebhook verifies the HMAC-SHA256 signature (base64, over the
// raw body) against the shared secret using a constant-time compare, then
// enqueues a background KnowledgeEntry upsert. Signature failure returns 401
// (spec.md §7).
func (s *Server) handleShopifyWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	capBody(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "body read error", http.StatusBadRequest)
		return
	}

	if !s.verifyShopifySignature(body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var product shopifyProduct
	if err := json.Unmarshal(body, &product); err != nil {
		http.Error(w, "unparseable body", http.StatusBadRequest)
		return
	}

	topic := r.Header.Get("X-Shopify-Topic")
	tenantID := store.TenantID(parseInt64(r.URL.Query().Get("tenant_id")))
	chatbotID := store.ChatbotID(parseInt64(r.URL.Query().Get("chatbot_id")))

	// Knowledge upsert runs detached from the request lifecycle; the
	// webhook has already been accepted and must not block on a DB write.
	go func() {
		entry := &store.KnowledgeEntry{
			TenantID:  tenantID,
			ChatbotID: chatbotID,
			Category:  product.ProductType,
			Question:  product.Title,
			Answer:    product.BodyHTML,
			IsActive:  true,
		}
		if err := s.store.UpsertKnowledgeEntry(context.Background(), entry); err != nil {
			slog.Error("knowledge entry upsert failed", "topic", topic, "error", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) verifyShopifySignature(body []byte, signatureB64 string) bool {
	if s.shopifySecret == "" || signatureB64 == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.shopifySecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}
