package handlers

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/Fantasim/minerstake/internal/aggregate"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/models"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// statusByCode maps API error codes to HTTP statuses. Unlisted codes are 500.
var statusByCode = map[string]int{
	config.ErrorInvalidInput:        http.StatusBadRequest,
	config.ErrorInvalidAddress:      http.StatusBadRequest,
	config.ErrorUnknownAction:       http.StatusBadRequest,
	config.ErrorInsufficientBalance: http.StatusUnprocessableEntity,
	config.ErrorApprovalRequired:    http.StatusUnprocessableEntity,
	config.ErrorPoolDisabled:        http.StatusUnprocessableEntity,
	config.ErrorNotUnlocked:         http.StatusUnprocessableEntity,
	config.ErrorNotStaked:           http.StatusUnprocessableEntity,
	config.ErrorActionInFlight:      http.StatusConflict,
	config.ErrorNotConnected:        http.StatusConflict,
	config.ErrorWrongChain:          http.StatusConflict,
	config.ErrorReadOnlySession:     http.StatusConflict,
	config.ErrorNotFound:            http.StatusNotFound,
	config.ErrorProviderUnavailable: http.StatusServiceUnavailable,
	config.ErrorTxRejected:          http.StatusBadGateway,
	config.ErrorTxReverted:          http.StatusBadGateway,
}

// amountView carries an amount both as raw smallest units and formatted.
type amountView struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

func newAmount(v *big.Int, decimals int32) *amountView {
	if v == nil {
		return nil
	}
	return &amountView{Raw: v.String(), Formatted: aggregate.FormatUnits(v, decimals)}
}

// parseIntParam extracts an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Debug("invalid int param, using default",
			"key", key,
			"value", val,
			"default", defaultVal,
		)
		return defaultVal
	}
	return n
}

// parseAmount reads a decimal amount in token units, or a raw smallest-unit
// integer when raw is set. ok is false for malformed or negative input.
func parseAmount(s string, raw bool, decimals int32) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	var v *big.Int
	if raw {
		parsed, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, false
		}
		v = parsed
	} else {
		parsed, ok := aggregate.ParseUnits(s, decimals)
		if !ok {
			return nil, false
		}
		v = parsed
	}
	if v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// decodeJSON decodes a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		slog.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, config.ErrorInvalidInput, "invalid request body")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeData wraps data in the standard envelope.
func writeData(w http.ResponseWriter, start time.Time, total int64, data interface{}) {
	writeJSON(w, http.StatusOK, models.APIResponse{
		Data: data,
		Meta: &models.APIMeta{Total: total, ExecutionTime: time.Since(start).Milliseconds()},
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.APIError{
		Error: models.APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeServiceError maps err to its API code and HTTP status. Internal errors
// are logged and their detail is not exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := config.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		slog.Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}
