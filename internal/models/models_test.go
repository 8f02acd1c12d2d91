package models

import (
	"encoding/json"
	"testing"
)

func TestUserIDUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    UserID
		wantErr bool
	}{
		{"number", `{"user_id": 42, "message": "x"}`, "42", false},
		{"string", `{"user_id": "abc", "message": "x"}`, "abc", false},
		{"trimmed string", `{"user_id": "  7 ", "message": "x"}`, "7", false},
		{"null", `{"user_id": null, "message": "x"}`, "", false},
		{"float", `{"user_id": 4.2, "message": "x"}`, "", true},
		{"bool", `{"user_id": true, "message": "x"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatRequest
			err := json.Unmarshal([]byte(tt.input), &req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got user_id %q", req.UserID)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.UserID != tt.want {
				t.Errorf("expected user_id %q, got %q", tt.want, req.UserID)
			}
		})
	}
}

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  ChatRequest
		want error
	}{
		{"valid", ChatRequest{UserID: "42", Message: "bonjour"}, nil},
		{"missing user", ChatRequest{Message: "bonjour"}, ErrEmptyUserID},
		{"blank message", ChatRequest{UserID: "42", Message: "   "}, ErrEmptyMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Validate(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTurnValidate(t *testing.T) {
	if err := (Turn{Role: RoleUser}).Validate(); err != nil {
		t.Errorf("user role should be valid: %v", err)
	}
	if err := (Turn{Role: "system"}).Validate(); err != ErrInvalidRole {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestProfileCloneIsDeep(t *testing.T) {
	p := Profile{Name: "Ana", Goals: []string{"sleep"}, Extra: map[string]string{"k": "v"}}
	c := p.Clone()
	c.Goals[0] = "changed"
	c.Extra["k"] = "changed"
	if p.Goals[0] != "sleep" || p.Extra["k"] != "v" {
		t.Error("Clone shared backing storage with the original profile")
	}
	if (Profile{}).IsEmpty() != true {
		t.Error("zero profile should be empty")
	}
	if p.IsEmpty() {
		t.Error("populated profile should not be empty")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}
	msg := SuccessWithMessage("done", nil)
	if msg.Message != "done" {
		t.Errorf("expected message 'done', got %q", msg.Message)
	}
	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
}
