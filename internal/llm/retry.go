package llm

import (
	"context"
	"errors"
)

// RetryPolicy governs re-attempts of a single model call that failed
// because the model generated undecodable tool-call arguments. Each
// attempt raises the sampling temperature by TempStep to encourage a
// different, hopefully valid, generation. Errors that fail the
// Retryable predicate (rate limits, transport failures) surface
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	TempStep    float64
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries malformed tool-call generations up to
// three times, bumping temperature by 0.2 per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		TempStep:    0.2,
		Retryable: func(err error) bool {
			var mtc *MalformedToolCallError
			return errors.As(err, &mtc)
		},
	}
}

// Do runs the model call through the policy. The request's temperature
// is adjusted per attempt; everything else is passed through unchanged.
func (p RetryPolicy) Do(ctx context.Context, client Client, req ChatRequest) (*ChatResponse, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	temp := req.Temperature
	for i := 0; i < attempts; i++ {
		attempt := req
		attempt.Temperature = temp
		resp, err := client.Chat(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if p.Retryable == nil || !p.Retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		temp += p.TempStep
		if temp > 1.0 {
			temp = 1.0
		}
	}
	return nil, lastErr
}
