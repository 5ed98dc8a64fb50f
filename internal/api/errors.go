package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the error_code field.
const (
	CodeAuthenticationRequired     = "AUTHENTICATION_REQUIRED"
	CodeAuthenticationFailed       = "AUTHENTICATION_FAILED"
	CodeSubscriptionRequired       = "SUBSCRIPTION_REQUIRED"
	CodeNotAuthenticatedForBilling = "NOT_AUTHENTICATED_FOR_BILLING"
	CodeSessionLimitReached        = "SESSION_LIMIT_REACHED"
	CodeSessionExpired             = "SESSION_EXPIRED"
	CodeInvalidRefreshToken        = "INVALID_REFRESH_TOKEN"
	CodeSessionNotFound            = "SESSION_NOT_FOUND"
	CodeInvalidRequest             = "INVALID_REQUEST"
	CodeInvalidWebhookSecret       = "INVALID_WEBHOOK_SECRET"
	CodeNotConfigured              = "NOT_CONFIGURED"
	CodeInternal                   = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Reason       string `json:"reason,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{ErrorCode: code, ErrorMessage: message})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
