package wire

// ErrorResponse is the error body of a failed request
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes an error response for the request
func (e *Encoder) WriteError(id, op, errorCode, message string) error {
	return e.WriteErrorWithDetails(id, op, errorCode, message, "")
}

// WriteErrorWithDetails writes an error response with additional details
func (e *Encoder) WriteErrorWithDetails(id, op, errorCode, message, details string) error {
	return e.Write(Response{
		ID: id,
		Op: op,
		Error: &ErrorResponse{
			Error:   errorCode,
			Message: message,
			Details: details,
		},
	})
}

// Common error writers for consistency
func (e *Encoder) WriteBadRequest(id, op, message string) error {
	return e.WriteError(id, op, "bad_request", message)
}

func (e *Encoder) WriteUnknownOp(id, op string) error {
	return e.WriteError(id, op, "unknown_op", "unsupported operation")
}

func (e *Encoder) WriteInternalError(id, op string) error {
	return e.WriteError(id, op, "internal_error", "internal error")
}
