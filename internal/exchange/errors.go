package exchange

// Error represents a standardized error from an exchange. The Retryable
// flag drives the coordinator's backoff-vs-surface decision.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Common error values shared by all connectors.
var (
	ErrInsufficientMargin = &Error{
		Code:    "INSUFFICIENT_MARGIN",
		Message: "Insufficient margin for order",
	}

	ErrInvalidSymbol = &Error{
		Code:    "INVALID_SYMBOL",
		Message: "Invalid trading symbol",
	}

	ErrOrderSizeTooSmall = &Error{
		Code:    "ORDER_SIZE_TOO_SMALL",
		Message: "Order size below minimum requirements",
	}

	ErrOrderNotFound = &Error{
		Code:    "ORDER_NOT_FOUND",
		Message: "Order not found on exchange",
	}

	ErrRateLimitExceeded = &Error{
		Code:      "RATE_LIMIT_EXCEEDED",
		Message:   "API rate limit exceeded",
		Retryable: true,
	}

	ErrConnectionFailed = &Error{
		Code:      "CONNECTION_FAILED",
		Message:   "Failed to connect to exchange",
		Retryable: true,
	}

	ErrTimeout = &Error{
		Code:      "TIMEOUT",
		Message:   "Exchange call timed out",
		Retryable: true,
	}
)

// IsRetryable reports whether err is a transient exchange failure. Unknown
// errors are treated as rejected: silent retries on unclassified failures
// are worse than surfacing them.
func IsRetryable(err error) bool {
	if ee, ok := err.(*Error); ok {
		return ee.Retryable
	}
	return false
}

// IsRejected reports whether err is a hard exchange rejection.
func IsRejected(err error) bool {
	if ee, ok := err.(*Error); ok {
		return !ee.Retryable
	}
	return false
}
