package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/service"
	"github.com/stayos/roomkeys/pkg/auth"
	"github.com/stayos/roomkeys/pkg/config"
)

type claimsKeyType struct{}

var claimsKey claimsKeyType

type Handlers struct {
	checkInService    service.CheckInService
	revocationService service.RevocationService
	config            *config.Config
}

func New(checkInService service.CheckInService, revocationService service.RevocationService, cfg *config.Config) *Handlers {
	return &Handlers{
		checkInService:    checkInService,
		revocationService: revocationService,
		config:            cfg,
	}
}

// RequireJWT gates staff endpoints. Tokens are minted by the property
// management system; "admin" passes every role check.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse([]byte(h.config.Auth.JWTSecret), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != "admin" {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps service-layer sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrAlreadyCheckedIn):
		writeError(w, http.StatusConflict, "Reservation already checked in")
	case errors.Is(err, domain.ErrRoomOccupied):
		writeError(w, http.StatusConflict, "Room already has a live key")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "Conflicting key for room")
	case errors.Is(err, domain.ErrKeyIssuance):
		writeError(w, http.StatusBadGateway, "Lock vendor rejected key issuance")
	case errors.Is(err, domain.ErrRevocationPending):
		writeError(w, http.StatusBadGateway, "Lock vendor unreachable, revocation pending")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidKey):
		writeError(w, http.StatusUnprocessableEntity, "Key cannot be revoked")
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
