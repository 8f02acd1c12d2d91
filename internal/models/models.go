// Package models defines the core data structures for Auriance.
//
// It includes conversation turns, user profiles, chat payloads and the API
// response envelope shared across modules.
package models

// APIStatus is the status field of the response envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope of every HTTP and websocket reply.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"` // error text or acknowledgement
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage wraps result in an ok envelope carrying an acknowledgement.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error builds an error envelope. message is shown to clients as is.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
