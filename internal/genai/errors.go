package genai

import "errors"

// Sentinel errors for Gemini API operations.
var (
	ErrInvalidKey    = errors.New("genai: invalid or unauthorized API key")
	ErrRateLimited   = errors.New("genai: rate limited by server")
	ErrBadRequest    = errors.New("genai: bad request")
	ErrServer        = errors.New("genai: server error")
	ErrEmptyResponse = errors.New("genai: response contained no text")
)
