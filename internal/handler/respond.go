package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mmeshcher/echobeats-checkout/internal/validation"
)

const maxRequestBody = 64 << 10

type messageResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Errors  []validation.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func writeValidationError(w http.ResponseWriter, ve *validation.Error) {
	writeJSON(w, http.StatusBadRequest, messageResponse{
		Message: ve.Error(),
		Errors:  ve.Fields,
	})
}

// jsonKind переводит вид Go-типа в название типа JSON.
func jsonKind(kind string) string {
	switch kind {
	case "float32", "float64", "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64":
		return "number"
	case "bool":
		return "boolean"
	case "ptr", "struct", "map":
		return "object"
	case "slice", "array":
		return "array"
	default:
		return kind
	}
}
