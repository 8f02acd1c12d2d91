package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without replying inline; replies are sent
// through the REST API once the agent has answered.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements the Service interface using the Twilio API.
// Inbound messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client     twiliowhatsapp.Sender // real Twilio client or MockClient
	validator  *twiliowhatsapp.SignatureValidator
	webhookURL string
	inbox      *inbox
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match. webhookURL is the public URL Twilio posts to; when empty it is
// rebuilt from the request.
func WithSignatureValidation(v *twiliowhatsapp.SignatureValidator, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a new TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client: client,
		inbox:  newInbox("twilio"),
	}
	for _, opt := range opts {
		opt(service)
	}
	slog.Debug("TwilioService created", "signature_validation", service.validator != nil)
	return service
}

// Name returns "twilio".
func (s *TwilioService) Name() string {
	return "twilio"
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters, including the "whatsapp:" prefix.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(twiliowhatsapp.PhoneNumber(recipient))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; messages arrive over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the Messages channel.
func (s *TwilioService) Stop() error {
	if s.inbox.close() {
		slog.Info("TwilioService stopped")
	}
	return nil
}

// SendMessage sends a message via Twilio in E.164 form.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo)
	return nil
}

// Messages returns the channel of incoming messages.
func (s *TwilioService) Messages() <-chan models.InboundMessage {
	return s.inbox.ch
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them on the Messages channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.requestURL(r), params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := twiliowhatsapp.PhoneNumber(r.FormValue("From"))
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))
	s.inbox.emit(models.InboundMessage{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// requestURL returns the URL Twilio signed for r.
func (s *TwilioService) requestURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
