package rtms

import "fmt"

// ErrorCategory classifies stream errors for the propagation policy:
// retryable categories reconnect with a debounce, non-retryable
// categories disable reconnect and surface an error event.
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryMeeting    ErrorCategory = "meeting"
	CategoryStream     ErrorCategory = "stream"
	CategoryPermission ErrorCategory = "permission"
	CategoryNetwork    ErrorCategory = "network"
	CategoryServer     ErrorCategory = "server"
	CategoryLimit      ErrorCategory = "limit"
	CategoryMedia      ErrorCategory = "media"
	CategoryProtocol   ErrorCategory = "protocol"
	CategorySecurity   ErrorCategory = "security"
	CategoryConnection ErrorCategory = "connection"
	CategoryRequest    ErrorCategory = "request"
	CategorySDK        ErrorCategory = "sdk"
	CategoryConfig     ErrorCategory = "config"
	CategoryUnknown    ErrorCategory = "unknown"
)

// statusCategories is the fixed mapping from vendor handshake status
// codes to error categories.
var statusCategories = map[int]ErrorCategory{
	1:  CategoryAuth,
	2:  CategoryAuth,
	3:  CategoryRequest,
	4:  CategoryRequest,
	5:  CategoryMeeting,
	6:  CategoryProtocol,
	7:  CategoryStream,
	8:  CategoryStream,
	9:  CategoryPermission,
	10: CategoryServer,
	11: CategoryServer,
	12: CategoryNetwork,
	13: CategoryMeeting,
	14: CategoryLimit,
	15: CategorySecurity,
	16: CategoryMedia,
	17: CategorySecurity,
	18: CategoryAuth,
}

// retryableCategories are the categories for which the session
// reconnects with a 3-second debounce.
var retryableCategories = map[ErrorCategory]bool{
	CategoryNetwork:    true,
	CategoryServer:     true,
	CategoryLimit:      true,
	CategoryConnection: true,
	CategoryMedia:      true,
}

type errorAdvice struct {
	causes []string
	fixes  []string
}

var categoryAdvice = map[ErrorCategory]errorAdvice{
	CategoryAuth: {
		causes: []string{"client credentials rejected", "OAuth token expired or revoked"},
		fixes:  []string{"verify client_id and client_secret", "reissue credentials for this product"},
	},
	CategorySecurity: {
		causes: []string{"handshake signature mismatch"},
		fixes:  []string{"confirm the client secret used to sign matches the app credentials"},
	},
	CategoryMeeting: {
		causes: []string{"meeting not found or already ended"},
		fixes:  []string{"check that the meeting is still live before starting ingestion"},
	},
	CategoryStream: {
		causes: []string{"stream id unknown or already terminated"},
		fixes:  []string{"wait for a fresh rtms_started event"},
	},
	CategoryNetwork: {
		causes: []string{"transient network failure between client and media server"},
		fixes:  []string{"no action required, the session reconnects automatically"},
	},
	CategoryServer: {
		causes: []string{"media server internal error or restart"},
		fixes:  []string{"no action required, the session reconnects automatically"},
	},
	CategoryLimit: {
		causes: []string{"concurrent stream limit reached"},
		fixes:  []string{"reduce concurrent ingestion sessions"},
	},
	CategoryMedia: {
		causes: []string{"media negotiation failed"},
		fixes:  []string{"check the subscribed media mask against the account capabilities"},
	},
	CategoryRequest: {
		causes: []string{"malformed handshake request"},
		fixes:  []string{"upgrade the client, the protocol version may be unsupported"},
	},
}

const errorDocsBase = "https://docs.meetscribe.dev/rtms/errors"

// StreamError is the typed error envelope carried by error events.
type StreamError struct {
	Code     int           `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	Causes   []string      `json:"causes,omitempty"`
	Fixes    []string      `json:"fixes,omitempty"`
	DocsURL  string        `json:"docs_url,omitempty"`
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("rtms: %s (code %d, category %s)", e.Message, e.Code, e.Category)
}

// Retryable reports whether the session may reconnect after this error.
func (e *StreamError) Retryable() bool {
	return retryableCategories[e.Category]
}

// ErrorFromStatus builds a StreamError from a vendor handshake status
// code. Unknown codes map to the unknown category, which is treated as
// non-retryable.
func ErrorFromStatus(code int, message string) *StreamError {
	category, ok := statusCategories[code]
	if !ok {
		category = CategoryUnknown
	}
	if message == "" {
		message = fmt.Sprintf("handshake rejected with status %d", code)
	}

	advice := categoryAdvice[category]
	return &StreamError{
		Code:     code,
		Category: category,
		Message:  message,
		Causes:   advice.causes,
		Fixes:    advice.fixes,
		DocsURL:  fmt.Sprintf("%s#%s", errorDocsBase, category),
	}
}

// ConnectionError wraps a transport-level failure (dial, read, write)
// as a retryable connection-category error.
func ConnectionError(err error) *StreamError {
	return &StreamError{
		Code:     0,
		Category: CategoryConnection,
		Message:  err.Error(),
		DocsURL:  fmt.Sprintf("%s#%s", errorDocsBase, CategoryConnection),
	}
}
