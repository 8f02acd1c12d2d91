package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/testutil"
	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agents/ws" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWSHandler_Conversation(t *testing.T) {
	s, st, _ := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "?user_id=42", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for _, msg := range []string{"je suis stressé", "je dors mal"} {
		if err := conn.WriteJSON(wsMessage{Message: msg}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		var resp models.APIResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if resp.Status != string(models.APIStatusOK) {
			t.Fatalf("unexpected response: %+v", resp)
		}
		var reply models.ChatReply
		testutil.DecodeResult(t, resp, &reply)
		if reply.Answer == "" || reply.Type != models.ReplyTypeDemo {
			t.Errorf("unexpected reply: %+v", reply)
		}
	}

	history, _ := st.GetHistory(context.Background(), "42")
	if len(history) != 4 || history[0].Content != "je suis stressé" || history[2].Content != "je dors mal" {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestWSHandler_ErrorFrames(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "?user_id=42", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for _, frame := range []string{"not json", `{"message":"  "}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		var resp models.APIResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if resp.Status != string(models.APIStatusError) {
			t.Errorf("frame %q: expected error envelope, got %+v", frame, resp)
		}
	}
}

func TestWSHandler_RequiresUserID(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "", nil)
	if err == nil {
		t.Fatal("expected dial without user_id to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 response, got %+v", resp)
	}
}

func TestWSHandler_CheckOrigin(t *testing.T) {
	s, _, _ := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "?user_id=42", http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected cross-origin dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %+v", resp)
	}

	conn, _, err := dialWS(t, srv, "?user_id=42", http.Header{"Origin": {srv.URL}})
	if err != nil {
		t.Fatalf("same-origin dial failed: %v", err)
	}
	conn.Close()
}
