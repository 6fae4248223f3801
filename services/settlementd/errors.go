package settlementd

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	coreerrors "tappay/core/errors"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message, kind string, shortfall *big.Int) {
	resp := errorResponse{Error: message, Kind: kind}
	if shortfall != nil {
		resp.Shortfall = shortfall.String()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	switch coreerrors.KindOf(err) {
	case coreerrors.KindValidation:
		return http.StatusBadRequest
	case coreerrors.KindAuthorization:
		return http.StatusForbidden
	case coreerrors.KindStateConflict:
		switch {
		case errors.Is(err, coreerrors.ErrNotFound), errors.Is(err, coreerrors.ErrUnresolvedPayee):
			return http.StatusNotFound
		case errors.Is(err, coreerrors.ErrRateUnavailable):
			return http.StatusServiceUnavailable
		default:
			return http.StatusConflict
		}
	case coreerrors.KindResourceExhaustion:
		if errors.Is(err, coreerrors.ErrInsufficientBalance) {
			return http.StatusPaymentRequired
		}
		return http.StatusTooManyRequests
	case coreerrors.KindDependency:
		if errors.Is(err, coreerrors.ErrDependencyTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSONError(w, status, message, string(coreerrors.KindOf(err)), coreerrors.ShortfallOf(err))
}
