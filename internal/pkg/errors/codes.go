package errors

import (
	"net/http"
)

// Code describes an error code: the HTTP status used by the ops server and
// the message key used when the error has to be shown to a chat user.
type Code struct {
	Code       int
	Status     int
	Message    string
	MessageKey string
}

const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrPersistence     = 1004
	ErrServiceUnavail  = 1005

	// Request errors (2000-2999)
	ErrInvalidURL          = 2000
	ErrUnsupportedPlatform = 2001
	ErrRateLimited         = 2002
	ErrBanned              = 2003

	// Download errors (3000-3999)
	ErrDownloadFailed = 3000
	ErrSizeExceeded   = 3001
	ErrDeliveryFailed = 3002
	ErrCancelled      = 3003
)

// User message keys, resolved to text by the bot package.
const (
	KeyError      = "error"
	KeyInvalidURL = "invalid_url"
	KeyRateLimit  = "rate_limit"
	KeyTooLarge   = "too_large"
	KeyBanned     = "banned"
)

var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success", ""},

	ErrInternalServer: {ErrInternalServer, http.StatusInternalServerError, "Internal server error", KeyError},
	ErrInvalidParams:  {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters", KeyError},
	ErrNotFound:       {ErrNotFound, http.StatusNotFound, "Resource not found", KeyError},
	ErrUnauthorized:   {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", KeyError},
	ErrPersistence:    {ErrPersistence, http.StatusInternalServerError, "Store operation failed", KeyError},
	ErrServiceUnavail: {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable", KeyError},

	ErrInvalidURL:          {ErrInvalidURL, http.StatusBadRequest, "Invalid URL", KeyInvalidURL},
	ErrUnsupportedPlatform: {ErrUnsupportedPlatform, http.StatusBadRequest, "Unsupported platform", KeyInvalidURL},
	ErrRateLimited:         {ErrRateLimited, http.StatusTooManyRequests, "Too many requests", KeyRateLimit},
	ErrBanned:              {ErrBanned, http.StatusForbidden, "User is banned", KeyBanned},

	ErrDownloadFailed: {ErrDownloadFailed, http.StatusBadGateway, "Download failed", KeyError},
	ErrSizeExceeded:   {ErrSizeExceeded, http.StatusRequestEntityTooLarge, "File size exceeds limit", KeyTooLarge},
	ErrDeliveryFailed: {ErrDeliveryFailed, http.StatusBadGateway, "Delivery failed", KeyError},
	ErrCancelled:      {ErrCancelled, http.StatusConflict, "Download cancelled by user", KeyError},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

func GetMessage(code int) string {
	return GetCode(code).Message
}

// GetMessageKey returns the chat message key shown to the user for code
func GetMessageKey(code int) string {
	return GetCode(code).MessageKey
}
