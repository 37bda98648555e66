package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sentinelai/sentinel/internal/auth"
	"github.com/sentinelai/sentinel/internal/rbac"
	"github.com/sentinelai/sentinel/internal/repository"
)

// parseUUID extracts and parses a UUID path parameter by name.
// Writes a 400 and returns false if the parameter is missing or malformed.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a valid UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

// parseUUIDString parses a UUID carried in a request body or a JWT claim
// rather than in a path parameter.
func parseUUIDString(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

// paginationOpts reads limit and offset query parameters from the request.
// Defaults: limit=20, offset=0. Max limit is capped at 100.
func paginationOpts(r *http.Request) repository.ListOptions {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return repository.ListOptions{Limit: limit, Offset: offset}
}

// jobIDParam reconstructs a hierarchical job ID from its three path
// segments. Job IDs embed literal "/" characters ("<supervisor>/<owner>/
// <uuid>"), which an HTTP path parameter cannot carry as a single opaque
// token, so every job-scoped route is declared with three path params
// instead of one and this helper joins and validates them.
func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	supervisorID, ok := parseUUID(w, r, "supervisor_id")
	if !ok {
		return "", false
	}
	ownerID, ok := parseUUID(w, r, "owner_id")
	if !ok {
		return "", false
	}
	jobUUID, ok := parseUUID(w, r, "job_uuid")
	if !ok {
		return "", false
	}
	return supervisorID.String() + "/" + ownerID.String() + "/" + jobUUID.String(), true
}

// identityFromClaims converts the JWT claims attached to the request context
// into the rbac.Identity the scoping helpers operate on. Returns false if no
// claims are present or the UserID claim is malformed — both should be
// impossible once Authenticate has run, but handlers must not panic on a
// broken token.
func identityFromClaims(claims *auth.Claims) (rbac.Identity, bool) {
	if claims == nil {
		return rbac.Identity{}, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return rbac.Identity{}, false
	}
	id := rbac.Identity{UserID: userID, Role: claims.Role}
	if claims.SupervisorID != "" {
		supervisorID, err := uuid.Parse(claims.SupervisorID)
		if err == nil {
			id.SupervisorID = &supervisorID
		}
	}
	return id, true
}
