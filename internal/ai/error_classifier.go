package ai

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// classify turns an SDK or transport error into a CallError. Errors that
// already are CallErrors pass through with the vendor filled in.
func classify(vendor Vendor, err error) error {
	if err == nil {
		return nil
	}

	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Vendor == "" {
			ce.Vendor = vendor
		}
		return ce
	}

	if isTimeoutError(err) {
		return &CallError{Kind: CallTimeout, Vendor: vendor, Err: err}
	}

	if status, ok := vendorStatus(err); ok {
		return &CallError{Kind: CallVendor, Vendor: vendor, Status: status, Err: err}
	}

	if isTransientError(err) {
		return &CallError{Kind: CallTransport, Vendor: vendor, Err: err}
	}

	// Anything else that came back from the SDK is treated as a vendor answer
	// we could not use.
	return &CallError{Kind: CallVendor, Vendor: vendor, Err: err}
}

// vendorStatus extracts the HTTP status of an API-level error.
func vendorStatus(err error) (int, bool) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, true
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return gErrPtr.Code, true
	}
	return 0, false
}

// isTimeoutError matches deadline and net.Error timeouts, then falls back to
// the message for SDKs that wrap them without unwrapping support.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isTransientError checks for connection-level failures.
func isTransientError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "proxyconnect") ||
		strings.Contains(errStr, "eof")
}
