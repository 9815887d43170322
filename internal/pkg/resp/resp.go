/*
Package resp provides helper functions for constructing and sending standardized HTTP JSON responses.

Every response carries a gateway code (0 for success), a message and an optional data payload.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
)

// JSONResponse defines the standardized JSON response structure returned to clients.
type JSONResponse struct {
	// Code is 0 for success, otherwise an errs code.
	Code int `json:"code"`

	Message string `json:"message"`

	Data any `json:"data,omitempty"`
}

// RespondJSON sets the Content-Type and writes the JSON payload with the given status.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	if _, err := w.Write(response); err != nil {
		logx.Warn("Failed to write JSON response", "error", err.Error(), "path", r.URL.Path)
	}
}

// RespondSuccess sends a successful HTTP response (HTTP 200 OK).
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondWithStatus(w, r, http.StatusOK, data)
}

// RespondWithStatus sends a success envelope with a non-default 2xx status, e.g. 202 for deferred work.
func RespondWithStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	res := JSONResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	}
	RespondJSON(w, r, status, res)
}

// RespondError sends an HTTP response containing custom error information.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	res := JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	}
	RespondJSON(w, r, customErr.Status, res)
}
