package ai

import (
    "context"
    "errors"
    "time"
)

// Request is one synchronous inference call. Body is a serialized modelInput.
type Request struct {
    ModelID string
    Body    []byte
    Timeout time.Duration
}

type Response struct {
    Output
    Latency time.Duration
    Raw     []byte
}

// Client is a synchronous inference backend.
type Client interface {
    Name() string
    Do(ctx context.Context, req Request) (Response, error)
}

var (
    ErrThrottled    = errors.New("throttled")
    ErrAccessDenied = errors.New("access_denied")
    ErrValidation   = errors.New("validation")
)

func IsThrottled(err error) bool    { return errors.Is(err, ErrThrottled) }
func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
