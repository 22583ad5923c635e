package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	ErrInvalidJSON = "invalid json"
	ErrMissingID   = "missing id"
	ErrDependency  = "dependency error"
	ErrNotFound    = "not found"
	ErrConflict    = "already exists"
	ErrValidation  = "validation_failed"
)

// ErrorBody is the JSON error payload. Fields is set for validation failures only.
type ErrorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorBody{Error: msg})
}

func validationError(err error) ErrorBody {
	fields := map[string][]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			fields[field] = append(fields[field], fe.Tag())
		}
	}
	if len(fields) == 0 {
		return ErrorBody{Error: err.Error()}
	}
	return ErrorBody{Error: ErrValidation, Fields: fields}
}
