package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

func invalidRequest(err error) error {
	return CodedError(http.StatusBadRequest, err)
}

func notFoundf(format string, args ...any) error {
	return CodedErrorf(http.StatusNotFound, format, args...)
}

// statusFor maps an error to the HTTP status sent to the client. Uncoded
// errors come from the remote server client, either a transport failure or a
// *generators.UpstreamError, and are reported as gateway failures.
func statusFor(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Named("http").Error("error encoding response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	zap.L().Named("http").Error("api error",
		zap.Int("status", status),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"status": status,
	})
}

// RestHandler adapts a handler returning a JSON-able value or an error.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res == nil {
			res = struct{}{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}
