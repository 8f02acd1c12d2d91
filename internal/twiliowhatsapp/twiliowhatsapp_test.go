package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"sort"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}

	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}

	mock.Err = errors.New("down")
	if err := mock.SendMessage(ctx, "12345", "again"); err == nil {
		t.Error("expected configured error")
	}
}

func TestAddressHelpers(t *testing.T) {
	if got := WhatsAppAddress("+33612345678"); got != "whatsapp:+33612345678" {
		t.Errorf("unexpected address %q", got)
	}
	if got := WhatsAppAddress("whatsapp:+33612345678"); got != "whatsapp:+33612345678" {
		t.Errorf("prefix must not be doubled, got %q", got)
	}
	if got := PhoneNumber("whatsapp:+33612345678"); got != "+33612345678" {
		t.Errorf("unexpected phone number %q", got)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("unexpected sender %q", c.fromWhats)
	}
}

func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := url
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	url := "https://auriance.example.com/webhooks/twilio"
	params := map[string]string{"From": "whatsapp:+33612345678", "Body": "bonjour"}
	v := NewSignatureValidator("secret")

	if !v.Validate(url, params, sign("secret", url, params)) {
		t.Error("expected valid signature to pass")
	}
	if v.Validate(url, params, sign("other", url, params)) {
		t.Error("expected signature with wrong token to fail")
	}
}
