package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the "error" field of JSON error bodies.
const (
	CodeUnauthorized         = "unauthorized"
	CodeInvalidRequest       = "invalid_request"
	CodeNotFound             = "not_found"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal_error"
	CodeInsufficientCredits  = "insufficient_credits"
	CodeGenerationInProgress = "generation_in_progress"
	CodeStyleNotFound        = "style_not_found"
	CodeValidation           = "validation_error"
	CodeTransientNetwork     = "transient_network_error"
	CodeRemoteJobFailure     = "remote_job_failure"
	CodePollTimeout          = "poll_timeout"
	CodeLedgerFailure        = "ledger_decrement_failure"
	CodeAbandoned            = "abandoned"
)

var messages = map[string]map[string]string{
	"en": {
		CodeUnauthorized:         "Please sign in to continue.",
		CodeInvalidRequest:       "The request is invalid.",
		CodeNotFound:             "Not found.",
		CodeRateLimited:          "Too many requests. Please slow down.",
		CodeInternal:             "Something went wrong. Please try again.",
		CodeInsufficientCredits:  "You have no credits left.",
		CodeGenerationInProgress: "A generation is already running in another window.",
		CodeStyleNotFound:        "That style is not available.",
		CodeValidation:           "Please upload a photo and choose a style.",
		CodeTransientNetwork:     "Failed to generate caricature. Please try again.",
		CodeRemoteJobFailure:     "Generation failed.",
		CodePollTimeout:          "Generation timed out.",
		CodeLedgerFailure:        "We could not deduct your credit. Please try again.",
		CodeAbandoned:            "Generation was interrupted.",
	},
	"id": {
		CodeUnauthorized:         "Silakan masuk untuk melanjutkan.",
		CodeInvalidRequest:       "Permintaan tidak valid.",
		CodeNotFound:             "Tidak ditemukan.",
		CodeRateLimited:          "Terlalu banyak permintaan. Mohon tunggu sebentar.",
		CodeInternal:             "Terjadi kesalahan. Silakan coba lagi.",
		CodeInsufficientCredits:  "Kredit Anda sudah habis.",
		CodeGenerationInProgress: "Pembuatan gambar sedang berjalan di jendela lain.",
		CodeStyleNotFound:        "Gaya tersebut tidak tersedia.",
		CodeValidation:           "Silakan unggah foto dan pilih gaya.",
		CodeTransientNetwork:     "Gagal membuat karikatur. Silakan coba lagi.",
		CodeRemoteJobFailure:     "Pembuatan gambar gagal.",
		CodePollTimeout:          "Waktu pembuatan gambar habis.",
		CodeLedgerFailure:        "Kredit Anda tidak dapat dipotong. Silakan coba lagi.",
		CodeAbandoned:            "Pembuatan gambar terputus.",
	},
}

// Message returns the user-facing text for code in locale, falling back to
// English and then to the code itself.
func Message(locale, code string) string {
	if m, ok := messages[locale][code]; ok {
		return m
	}
	if m, ok := messages["en"][code]; ok {
		return m
	}
	return code
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a localized JSON error.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: code, Message: Message(LocaleFromContext(r.Context()), code)})
}
