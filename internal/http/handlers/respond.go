package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/fault"
)

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithJSON sends v as a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error class to its HTTP status
func statusFor(err error) int {
	switch {
	case fault.IsValidation(err):
		return http.StatusUnprocessableEntity
	case fault.IsNotFound(err):
		return http.StatusNotFound
	case fault.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithFault reports err to the client. Unclassified errors are logged
// and hidden behind a generic message.
func respondWithFault(w http.ResponseWriter, logger *logrus.Logger, err error) {
	status := statusFor(err)
	switch {
	case fault.IsPrecondition(err):
		logger.WithError(err).Error("precondition failed")
		respondWithError(w, status, err.Error())
	case status == http.StatusInternalServerError:
		logger.WithError(err).Error("request failed")
		respondWithError(w, status, "internal server error")
	default:
		respondWithError(w, status, err.Error())
	}
}
