package vstore

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gertd/go-pluralize"
)

var pluralizer = pluralize.NewClient()

// SuccessResponse defines the envelope for successful responses.
type SuccessResponse struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

// FieldDetail describes one rejected input field.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorPayload is the body of every error response.
type ErrorPayload struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []FieldDetail `json:"details,omitempty"`
}

// ErrorResponse defines the envelope for error responses.
type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

// Respond writes data in the success envelope. 204 writes no body.
func Respond(w http.ResponseWriter, code int, data any, meta any) {
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(SuccessResponse{Data: data, Meta: meta})
}

// Error writes the error envelope with an application error code.
func Error(w http.ResponseWriter, code int, errorCode string, message string, details ...FieldDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorPayload{Code: errorCode, Message: message, Details: details},
	})
}

// Pluralize converts a singular entity name into its plural form. Only the
// last underscore separated word is inflected.
func Pluralize(singular string) string {
	return inflectLast(singular, pluralizer.Plural)
}

// Singularize converts a plural entity name into its singular form.
func Singularize(plural string) string {
	return inflectLast(plural, pluralizer.Singular)
}

// IsPlural reports whether the last word of name is plural.
func IsPlural(name string) bool {
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		name = name[i+1:]
	}
	return pluralizer.IsPlural(name)
}

func inflectLast(name string, fn func(string) string) string {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return fn(name)
	}
	return name[:i+1] + fn(name[i+1:])
}
