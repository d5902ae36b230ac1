package models

// ErrorType classifies an error response envelope.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeServer      ErrorType = "SERVER_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeForbidden   ErrorType = "FORBIDDEN"
	ErrorTypeTransaction ErrorType = "TRANSACTION_ERROR"
)

// ErrorInfo is one entry of an error response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage is the body of every non-2xx API response.
type ErrorMessage struct {
	Type   ErrorType   `json:"type"`
	Errors []ErrorInfo `json:"errors"`
}
