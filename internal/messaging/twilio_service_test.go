package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/auriance-health/auriance/internal/twiliowhatsapp"
)

func postForm(handler http.HandlerFunc, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "http://auriance.test/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(TwilioSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func sign(token, url string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+33612345678", "bonjour"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "+33612345678" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}

	if err := svc.SendMessage(context.Background(), "12", "bonjour"); err == nil {
		t.Error("expected error for short recipient")
	}
}

func TestTwilioService_Webhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+33612345678"}, "Body": {"je dors mal"}}, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml, got %q", ct)
	}
	select {
	case msg := <-svc.Messages():
		if msg.From != "+33612345678" || msg.Body != "je dors mal" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTwilioService_WebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+33612345678"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	const token = "secret"
	const webhookURL = "https://auriance.example.com/webhooks/twilio"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidation(twiliowhatsapp.NewSignatureValidator(token), webhookURL))
	form := url.Values{"From": {"whatsapp:+33612345678"}, "Body": {"bonjour"}}

	if rec := postForm(svc.TwilioWebhookHandler, form, ""); rec.Code != http.StatusForbidden {
		t.Errorf("unsigned request: expected 403, got %d", rec.Code)
	}
	if rec := postForm(svc.TwilioWebhookHandler, form, sign("wrong", webhookURL, form)); rec.Code != http.StatusForbidden {
		t.Errorf("bad signature: expected 403, got %d", rec.Code)
	}
	if rec := postForm(svc.TwilioWebhookHandler, form, sign(token, webhookURL, form)); rec.Code != http.StatusOK {
		t.Errorf("valid signature: expected 200, got %d", rec.Code)
	}
}

func TestTwilioService_Stop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Messages(); ok {
		t.Error("expected messages channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+33612345678", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
}
