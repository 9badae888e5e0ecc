package widget

import "time"

// Error codes returned to the embed widget. The widget switches on these to
// decide what to show, so they are part of the wire contract.
const (
	CodeSiteNotFound       = "SITE_NOT_FOUND"
	CodeDomainMismatch     = "DOMAIN_MISMATCH"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeSessionRateLimited = "SESSION_RATE_LIMITED"
	CodeIPRateLimited      = "IP_RATE_LIMITED"
)

// TurnError is a chat-turn rejection the widget can act on. RetryAfter is
// set only for the rate-limit codes.
type TurnError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *TurnError) Error() string { return e.Message }

func errSiteNotFound(siteID string) *TurnError {
	return &TurnError{Code: CodeSiteNotFound, Message: "site not found: " + siteID}
}

func errDomainMismatch() *TurnError {
	return &TurnError{Code: CodeDomainMismatch, Message: "widget origin does not match the site domain"}
}

func errInvalidAPIKey() *TurnError {
	return &TurnError{Code: CodeInvalidAPIKey, Message: "invalid widget api key"}
}

func errSessionRateLimited(retryAfter time.Duration) *TurnError {
	return &TurnError{
		Code:       CodeSessionRateLimited,
		Message:    "message limit reached for this conversation",
		RetryAfter: retryAfter,
	}
}

func errIPRateLimited(retryAfter time.Duration) *TurnError {
	return &TurnError{
		Code:       CodeIPRateLimited,
		Message:    "too many requests from this address",
		RetryAfter: retryAfter,
	}
}
