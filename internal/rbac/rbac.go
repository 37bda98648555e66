// Package rbac implements the tri-level admin/manager/analyst authorization
// scheme. Scoping rides on the hierarchical job ID itself
// ("<supervisor_id>/<owner_id>/<uuid>") rather than a join against the user
// hierarchy on every request: a manager's visible set is every job whose ID
// starts with their own UUID, an analyst's is every job whose ID starts with
// "<their supervisor>/<their own id>/".
package rbac

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAnalyst = "analyst"
)

// Identity is the minimal set of claims rbac needs to compute scope — kept
// independent of the auth package's JWT claims type so this package has no
// dependency on token format.
type Identity struct {
	UserID       uuid.UUID
	Role         string
	SupervisorID *uuid.UUID
}

// BuildJobIDPrefix returns the hierarchical prefix new jobs are created
// under for a given owner. Managers and admins own their own jobs directly,
// so their prefix is "<id>/<id>/"; analysts nest under their supervisor.
func BuildJobIDPrefix(owner Identity) string {
	supervisor := owner.UserID
	if owner.SupervisorID != nil {
		supervisor = *owner.SupervisorID
	}
	return fmt.Sprintf("%s/%s/", supervisor, owner.UserID)
}

// ScopePrefix returns the job-ID LIKE-prefix that bounds what an identity
// may list or read. An empty string means unrestricted (admin).
func ScopePrefix(id Identity) string {
	switch id.Role {
	case RoleAdmin:
		return ""
	case RoleManager:
		return id.UserID.String() + "/"
	default: // analyst
		supervisor := id.UserID
		if id.SupervisorID != nil {
			supervisor = *id.SupervisorID
		}
		return supervisor.String() + "/" + id.UserID.String() + "/"
	}
}

// ParseJobID splits a hierarchical job ID into its supervisor and owner
// segments. Returns an error if the ID does not have the expected
// "<supervisor>/<owner>/<uuid>" shape.
func ParseJobID(jobID string) (supervisorID, ownerID uuid.UUID, err error) {
	parts := strings.SplitN(jobID, "/", 3)
	if len(parts) != 3 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("rbac: malformed job id %q", jobID)
	}
	supervisorID, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("rbac: malformed job id supervisor segment: %w", err)
	}
	ownerID, err = uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("rbac: malformed job id owner segment: %w", err)
	}
	return supervisorID, ownerID, nil
}

// CanAccessJob reports whether id may read or act on jobID, applying the
// owner-or-supervisor predicate: admins always can; a manager can when the
// job's supervisor segment is their own ID; an analyst can only when the
// job's owner segment is their own ID. Both conditions are evaluated from
// the job ID itself — no database round trip is required.
func CanAccessJob(id Identity, jobID string) bool {
	if id.Role == RoleAdmin {
		return true
	}

	supervisorID, ownerID, err := ParseJobID(jobID)
	if err != nil {
		return false
	}

	switch id.Role {
	case RoleManager:
		return supervisorID == id.UserID
	case RoleAnalyst:
		return ownerID == id.UserID
	default:
		return false
	}
}
