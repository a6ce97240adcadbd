package model

// AppError is the error payload shared by every stage. Typed errors in other
// packages embed it so callers can branch on Code via errors.As.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // truncated to 200 chars
	Hint    string `json:"hint,omitempty"`
}

// ErrorResponse is the JSON body of every HTTP error.
type ErrorResponse struct {
	Error AppError `json:"error"`
}
