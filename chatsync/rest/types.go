package rest

import "fmt"

// EditMessageRequest is the request body for editing a message.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest is the request body for toggling a reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// UploadedFile describes a file stored by the upload endpoint. It is sent
// back verbatim as a message attachment.
type UploadedFile struct {
	Filename string `json:"filename"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// ErrorResponse represents an API error response. Servers report the reason
// either as "error" or as "detail".
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail"`
}

func (r ErrorResponse) message() string {
	if r.Error != "" {
		return r.Error
	}
	switch d := r.Detail.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		return fmt.Sprint(d)
	}
}

// APIError is returned for responses with a 4xx or 5xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}
