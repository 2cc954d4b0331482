package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Provider is an email delivery provider (EDP): one adapter per transport.
// Implementations are safe for concurrent use.
type Provider interface {
	// Name returns the provider's name for identification and logging.
	Name() string

	// Send delivers one message. Delivery failures are reported in the
	// returned SendResult; the error is reserved for programmer errors such
	// as a nil message or a provider that was never configured.
	Send(ctx context.Context, msg *Message) (*SendResult, error)

	// SendMultiple sends every message and returns one result per message,
	// in input order. A failed delivery never stops the remaining sends.
	SendMultiple(ctx context.Context, msgs []*Message) ([]*SendResult, error)
}

// MessageFactory projects a Message onto a provider's native message type.
// The projection is deterministic and performs no network access.
type MessageFactory[T any] interface {
	CreateProviderMessage(msg *Message) (T, error)
}

// SendResult is the outcome of one send attempt.
type SendResult struct {
	// Success reports whether the provider accepted the message.
	Success bool

	// Provider is the name of the provider that handled the message.
	Provider string

	// MessageID is the identifier assigned by the provider, when available.
	MessageID string

	// Error describes the failure when Success is false.
	Error *ErrorInfo

	// RawResponse is the provider response, kept for diagnostics.
	RawResponse any

	// Timestamp is when the attempt completed.
	Timestamp time.Time
}

// NewSuccessResult creates a successful SendResult.
func NewSuccessResult(provider, messageID string, raw any) *SendResult {
	return &SendResult{
		Success:     true,
		Provider:    provider,
		MessageID:   messageID,
		RawResponse: raw,
		Timestamp:   time.Now(),
	}
}

// NewFailureResult creates a failed SendResult.
func NewFailureResult(provider string, kind ErrorKind, cause error) *SendResult {
	info := &ErrorInfo{
		Provider: provider,
		Kind:     kind,
		Cause:    cause,
	}
	if cause != nil {
		info.Message = cause.Error()
	}
	return &SendResult{
		Provider:  provider,
		Error:     info,
		Timestamp: time.Now(),
	}
}

// WithStatus records a status code and raw response on a failed result.
func (r *SendResult) WithStatus(code int, raw any) *SendResult {
	if r.Error != nil {
		r.Error.StatusCode = code
	}
	r.RawResponse = raw
	return r
}

// SendEach sends msgs with send using at most limit concurrent calls and
// returns the results in input order. Nil messages fail the whole call before
// anything is sent; otherwise only an error returned by send aborts it.
func SendEach(ctx context.Context, msgs []*Message, limit int, send func(context.Context, *Message) (*SendResult, error)) ([]*SendResult, error) {
	for i, msg := range msgs {
		if msg == nil {
			return nil, fmt.Errorf("message at index %d: %w", i, ErrNilMessage)
		}
	}

	if limit < 1 {
		limit = 1
	}

	results := make([]*SendResult, len(msgs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, msg := range msgs {
		g.Go(func() error {
			result, err := send(ctx, msg)
			if err != nil {
				return fmt.Errorf("message at index %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EdpValue looks up key in msg and asserts its payload type.
// A present entry of the wrong type is an ErrInvalidEdpData error.
func EdpValue[T any](msg *Message, key EdpDataKey) (T, bool, error) {
	var zero T
	raw, ok := msg.LookupEdpData(key)
	if !ok {
		return zero, false, nil
	}
	value, ok := raw.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: key %s expects %T, got %T", ErrInvalidEdpData, key, zero, raw)
	}
	return value, true, nil
}
