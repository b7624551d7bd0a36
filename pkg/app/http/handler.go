// Package http wires error-returning handlers and the admin server into a
// chi-compatible surface.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/flarelabs/simple-wallet/pkg/app/errors"
)

// HandlerFunc is an HTTP handler that reports failure as an error instead of
// writing the response itself.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError adapts a HandlerFunc for any router, mapping a returned error
// onto the JSON error response its category dictates.
//
//	r.Post("/transactions", apphttp.HandleError(h.createTransaction))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

// DefaultErrorHandler writes the JSON error body for err. A ServiceError
// carries its own status code; anything else is an opaque 500.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	type errorResponse struct {
		ErrMsg     string `json:"error"`
		ErrMsgCode int    `json:"code"`
	}

	w.Header().Set("Content-Type", "application/json")

	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		w.WriteHeader(svcErr.StatusCode())
		_ = json.NewEncoder(w).Encode(&errorResponse{
			ErrMsg:     svcErr.Message,
			ErrMsgCode: svcErr.StatusCode(),
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(&errorResponse{
		ErrMsg:     "Unexpected Service Error",
		ErrMsgCode: http.StatusInternalServerError,
	})
}
