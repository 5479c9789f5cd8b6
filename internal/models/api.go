package models

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string       `json:"message"`
	ConversationID *string      `json:"conversationId,omitempty"`
	Images         []ImageInput `json:"images,omitempty"`
}

type HistoryResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
