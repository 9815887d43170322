/*
Package req provides helper functions for HTTP request parsing and data binding.
*/
package req

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"agora/internal/pkg/errs"
)

// MaxJSONBodySize bounds the size of JSON request bodies (64 KB).
const MaxJSONBodySize int64 = 64 << 10

// BindJSON binds the JSON body of r to dst. Unknown fields and trailing data are rejected.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.NewError(errs.ErrInvalidParams)
		}
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}
