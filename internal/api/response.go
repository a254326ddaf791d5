package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ErrorKind classifies a failed Response.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindNetwork covers transport failures, timeouts and unreadable bodies. StatusCode is 500.
	KindNetwork
	// KindHTTP is a non-2xx status other than an exhausted 401.
	KindHTTP
	// KindApplication is a 2xx response whose envelope reports failure.
	KindApplication
	// KindAuth is a 401 after the single retry, or a refresh that could not recover the session.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindApplication:
		return "application"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Response is the normalized result of every backend call.
// Success is true iff Data is non-nil and Error is empty.
type Response[T any] struct {
	Success    bool
	Data       *T
	Error      string
	StatusCode int
	Kind       ErrorKind
	// Err carries the underlying cause for network and auth failures.
	Err error
}

func succeed[T any](data *T, statusCode int) Response[T] {
	return Response[T]{Success: true, Data: data, StatusCode: statusCode, Kind: KindNone}
}

func fail[T any](kind ErrorKind, statusCode int, msg string, cause error) Response[T] {
	if msg == "" {
		msg = fmt.Sprintf("HTTP Error: %d", statusCode)
	}
	return Response[T]{Error: msg, StatusCode: statusCode, Kind: kind, Err: cause}
}

func networkFailure[T any](cause error) Response[T] {
	msg := "network error"
	if cause != nil {
		msg = cause.Error()
	}
	return fail[T](KindNetwork, http.StatusInternalServerError, msg, cause)
}

const (
	envelopeSuccess     = "SUCCESS"
	envelopeSuccessCode = "200"
)

// decodeEnvelope interprets a 2xx body.
func decodeEnvelope[T any](body []byte, httpStatus int) Response[T] {
	if !gjson.ValidBytes(body) {
		return networkFailure[T](fmt.Errorf("invalid JSON response"))
	}
	root := gjson.ParseBytes(body)
	status := root.Get("status").String()
	code := strings.TrimSpace(root.Get("statuscode").String())

	if status != envelopeSuccess || code != envelopeSuccessCode {
		statusCode := httpStatus
		if n, err := strconv.Atoi(code); err == nil {
			statusCode = n
		}
		msg := root.Get("message").String()
		if msg == "" {
			msg = fmt.Sprintf("Application Error: %d", statusCode)
		}
		return fail[T](KindApplication, statusCode, msg, nil)
	}

	raw := []byte(root.Raw)
	article := root.Get("article")
	data := root.Get("data")
	switch {
	case present(article):
		if present(data) && article.Raw != data.Raw {
			log.Debug("api: envelope carries both article and data, using article")
		}
		raw = []byte(article.Raw)
	case present(data):
		raw = []byte(data.Raw)
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return networkFailure[T](fmt.Errorf("decode response payload: %w", err))
	}
	return succeed(out, http.StatusOK)
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// backendMessage extracts the envelope message from a non-2xx body, if any.
func backendMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "message").String()
}

// Error is a failed Response as a Go error. Its text is the user-facing message.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// AsError returns nil on success, otherwise an *Error describing the failure.
func (r Response[T]) AsError() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = fmt.Sprintf("HTTP Error: %d", r.StatusCode)
	}
	return &Error{Kind: r.Kind, StatusCode: r.StatusCode, Message: msg, Cause: r.Err}
}
