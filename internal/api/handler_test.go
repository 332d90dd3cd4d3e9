package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"payment-reconciler/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func signedHeader(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1700000000."))
	mac.Write(body)
	return fmt.Sprintf("t=1700000000,v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

// newTestRouter wires only the webhook route; the order read endpoint
// needs a database and is covered by the store integration tests.
func newTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(provider.NewVerifier(secret), nil, nil)
	router := gin.New()
	router.POST("/webhooks/stripe", h.handleWebhook)
	return router
}

func postWebhook(router *gin.Engine, body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if header != "" {
		req.Header.Set(SignatureHeader, header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	router := newTestRouter(testSecret)
	w := postWebhook(router, []byte(`{"id":"evt_1","type":"x"}`), "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid signature")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router := newTestRouter(testSecret)
	body := []byte(`{"id":"evt_1","type":"x"}`)
	w := postWebhook(router, body, signedHeader("wrong_secret", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid signature")
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	router := newTestRouter(testSecret)
	header := signedHeader(testSecret, []byte(`{"id":"evt_1","amount":100}`))
	w := postWebhook(router, []byte(`{"id":"evt_1","amount":99999}`), header)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookWithoutConfiguredSecret(t *testing.T) {
	router := newTestRouter("")
	body := []byte(`{"id":"evt_1","type":"x"}`)
	w := postWebhook(router, body, signedHeader(testSecret, body))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "STRIPE_WEBHOOK_SECRET")
}

func TestWebhookRejectsUnparseablePayload(t *testing.T) {
	router := newTestRouter(testSecret)
	body := []byte(`{"type":"missing the id"}`)
	w := postWebhook(router, body, signedHeader(testSecret, body))

	// Signature passes, parsing does not.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid payload")
}
