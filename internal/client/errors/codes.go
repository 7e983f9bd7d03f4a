// Package errors maps service responses onto hmr-ctl exit codes.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Exit codes of hmr-ctl.
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1 // network failure, server 500
	ExitInvalidArguments = 2 // usage errors and 400
	ExitNotFound         = 3
	ExitConflict         = 4
	ExitAuthError        = 5
	ExitPermissionDenied = 6
	ExitUnavailable      = 7 // 503: replica, read-only or unavailable reference
)

// apiError mirrors the service's error envelope.
type apiError struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

// ExitWithError prints err and exits with ExitGeneralError.
func ExitWithError(err error, message string) {
	if message != "" {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(ExitGeneralError)
}

// ExitWithCode prints message, if any, and exits with code.
func ExitWithCode(code int, message string) {
	if message != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
	os.Exit(code)
}

// MapHTTPStatusToExitCode maps HTTP status codes to exit codes.
func MapHTTPStatusToExitCode(statusCode int) int {
	switch statusCode {
	case http.StatusUnauthorized:
		return ExitAuthError
	case http.StatusForbidden:
		return ExitPermissionDenied
	case http.StatusNotFound:
		return ExitNotFound
	case http.StatusConflict:
		return ExitConflict
	case http.StatusServiceUnavailable:
		return ExitUnavailable
	default:
		if statusCode >= 400 && statusCode < 500 {
			return ExitInvalidArguments
		}
		return ExitGeneralError
	}
}

// Describe renders an error response body for humans. Bodies that are not
// the service's error envelope are returned trimmed.
func Describe(statusCode int, body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) != nil || e.Error.Message == "" {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return http.StatusText(statusCode)
		}
		return text
	}
	msg := e.Error.Message
	if e.Error.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Error.Code)
	}
	if field := e.Error.Details["field"]; field != "" {
		msg += ", field " + field
	}
	return msg
}

// HandleHTTPError prints the failed action with the response's message and
// exits with the mapped code.
func HandleHTTPError(statusCode int, body []byte, action string) {
	message := fmt.Sprintf("%s: %s", action, Describe(statusCode, body))
	switch statusCode {
	case http.StatusUnauthorized:
		message += ". Try running 'hmr-ctl login' to authenticate"
	case http.StatusServiceUnavailable:
		if strings.Contains(message, "REPLICA_MODE") {
			message += ". Point --url at the PRIMARY deployment"
		}
	}
	ExitWithCode(MapHTTPStatusToExitCode(statusCode), message)
}
