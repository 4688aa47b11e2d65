package dto

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string             `json:"code"`
	Kind      string             `json:"kind,omitempty"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, kind, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Kind:      kind,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// NewValidationErrorResponse creates a request validation error response
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      ErrCodeValidation,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	}
}

// IDRequest binds a claim id path parameter
type IDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// ProcessClaimRequest is the body of a process call
type ProcessClaimRequest struct {
	AutoSettle bool `json:"auto_settle"`
}

// ReviewClaimRequest records a reviewer decision
type ReviewClaimRequest struct {
	Approve  *bool  `json:"approve" binding:"required"`
	Reviewer string `json:"reviewer" binding:"required,max=128"`
}

// BatchSettleRequest lists the claims of a bulk run
type BatchSettleRequest struct {
	ClaimIDs []string `json:"claim_ids" binding:"required,min=1,dive,uuid"`
}
