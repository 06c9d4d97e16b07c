package ratelimit

import (
	"encoding/json"
	"net/http"
)

// ErrorHandler recebe erros inesperados (ex: Redis fora do ar). O middleware não
// decide por abrir ou fechar: o erro segue para quem montou a cadeia.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler responde 500 genérico, sem detalhes do backend.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: "Internal server error"})
}

type ErrorBody struct {
	Error string `json:"error"`
}

// RejectionBody é o corpo do 429.
type RejectionBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	Reset      int64  `json:"reset"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
