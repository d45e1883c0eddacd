package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrUpstream indicates a transport or protocol failure talking to a model backend
	ErrUpstream = errors.New("upstream error")

	// ErrMalformedChunk indicates a single wire fragment could not be parsed
	ErrMalformedChunk = errors.New("malformed chunk")

	// ErrLookup indicates a lookup adapter could not resolve its query
	ErrLookup = errors.New("lookup failed")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedModel indicates a model id no backend serves
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrCancelled indicates a generation was cancelled or superseded
	ErrCancelled = errors.New("generation cancelled")
)
