package errors

import (
	sterrors "errors"
	"fmt"
)

// ErrInvalidArgument is the root of every structural validation failure. The
// more specific argument errors below wrap it, so callers can match either.
var ErrInvalidArgument = sterrors.New("kernelbus: invalid argument")

var (
	ErrSenderRequired    = fmt.Errorf("%w: sender is required", ErrInvalidArgument)
	ErrRecipientRequired = fmt.Errorf("%w: recipient is required", ErrInvalidArgument)
	ErrBodyRequired      = fmt.Errorf("%w: message body is required", ErrInvalidArgument)
	ErrInvalidMessageID  = fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	ErrEmptyAddress      = fmt.Errorf("%w: address cannot be empty", ErrInvalidArgument)
	ErrInvalidBodyKind   = fmt.Errorf("%w: body kind is not a recognised variant", ErrInvalidArgument)
	ErrUnknownBodyKind   = fmt.Errorf("%w: body kind is not registered in the catalog", ErrInvalidArgument)
	ErrDuplicateBodyKind = fmt.Errorf("%w: body kind already registered with another type", ErrInvalidArgument)
	ErrCodecRequired     = fmt.Errorf("%w: body codec is required", ErrInvalidArgument)
	ErrHandlerRequired   = fmt.Errorf("%w: handler function is required", ErrInvalidArgument)
	ErrListenerRequired  = fmt.Errorf("%w: listener is required", ErrInvalidArgument)
	ErrSelfAddressed     = fmt.Errorf("%w: sender and recipient are the same address", ErrInvalidArgument)
	ErrAddressMismatch   = fmt.Errorf("%w: endpoint listener and sender use different addresses", ErrInvalidArgument)
)

var (
	ErrDuplicateAddress = sterrors.New("kernelbus: address already registered")
	ErrUnknownAddress   = sterrors.New("kernelbus: address not registered")
	ErrMissingPipeline  = sterrors.New("kernelbus: assistant is not bound to a pipeline")
	ErrAlreadyBound     = sterrors.New("kernelbus: assistant is already bound to a pipeline")
	ErrPipelineClosed   = sterrors.New("kernelbus: pipeline is closed")
	ErrUnexpectedReply  = sterrors.New("kernelbus: reply body has an unexpected kind")
	ErrReplyCancelled   = sterrors.New("kernelbus: reply wait cancelled")
	ErrConfigRequired   = sterrors.New("kernelbus: configuration is required")
	ErrLoggerRequired   = sterrors.New("kernelbus: logger is required")
)

// AddressError reports a registration or routing failure for one address.
type AddressError struct {
	Op      string
	Address string
	Err     error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Address, e.Err)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// NewAddressError builds an AddressError for op on address.
func NewAddressError(op, address string, err error) *AddressError {
	return &AddressError{Op: op, Address: address, Err: err}
}

// DeliveryError wraps a failure raised by a recipient while it processed a
// dispatched message. It never reaches the sender.
type DeliveryError struct {
	MessageID string
	Sender    string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("kernelbus: delivery of %s from %q to %q failed: %v", e.MessageID, e.Sender, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// retryableError marks a listener failure as transient.
type retryableError struct {
	err error
}

func (e retryableError) Error() string {
	return "kernelbus: retryable: " + e.err.Error()
}

func (e retryableError) Unwrap() error {
	return e.err
}

// Retryable marks err so the retry middleware redelivers the message. A nil
// error stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err, or any error it wraps, was marked with Retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return sterrors.As(err, &r)
}

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "kernelbus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
