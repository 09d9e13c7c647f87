package dispatch

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Code classifies why a dispatch did not produce a renderer result.
type Code string

const (
	// CodeTransportFailed means the request never reached the renderer.
	CodeTransportFailed Code = "transport_failed"
	// CodeProtocolFailed means the renderer answered with a non-2xx status.
	CodeProtocolFailed Code = "protocol_failed"
	// CodeDecodeFailed means a 2xx answer carried a body that could not be parsed.
	CodeDecodeFailed Code = "decode_failed"
)

// MaxRawBytes bounds the raw body kept on protocol and decode failures.
const MaxRawBytes = 1000

// Error carries a Code plus whatever the renderer returned.
type Error struct {
	Code       Code
	StatusCode int
	Detail     string
	Raw        string
	err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Code, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Code, e.StatusCode)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Payload renders the failure as the JSON object reported to callers.
func (e *Error) Payload() map[string]any {
	if e == nil {
		return nil
	}
	out := map[string]any{"error": string(e.Code)}
	switch e.Code {
	case CodeTransportFailed:
		detail := e.Detail
		if detail == "" && e.err != nil {
			detail = e.err.Error()
		}
		out["detail"] = detail
	case CodeProtocolFailed:
		out["status_code"] = e.StatusCode
		out["detail"] = e.Detail
		out["raw"] = e.Raw
	case CodeDecodeFailed:
		out["raw"] = e.Raw
	}
	return out
}

// IsCode reports whether err is a dispatch Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// truncate caps raw at MaxRawBytes without splitting a UTF-8 sequence.
func truncate(raw []byte) string {
	if len(raw) <= MaxRawBytes {
		return string(raw)
	}
	cut := MaxRawBytes
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return string(raw[:cut])
}
