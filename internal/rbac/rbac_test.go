package rbac_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelai/sentinel/internal/rbac"
)

func TestScopePrefix(t *testing.T) {
	admin := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleAdmin}
	assert.Equal(t, "", rbac.ScopePrefix(admin))

	manager := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleManager}
	assert.Equal(t, manager.UserID.String()+"/", rbac.ScopePrefix(manager))

	supervisorID := uuid.New()
	analyst := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleAnalyst, SupervisorID: &supervisorID}
	assert.Equal(t, supervisorID.String()+"/"+analyst.UserID.String()+"/", rbac.ScopePrefix(analyst))
}

func TestScopePrefix_AnalystWithoutSupervisor(t *testing.T) {
	// An analyst record with no SupervisorID set falls back to scoping under
	// its own ID, matching BuildJobIDPrefix's same fallback for job creation.
	analyst := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleAnalyst}
	assert.Equal(t, analyst.UserID.String()+"/"+analyst.UserID.String()+"/", rbac.ScopePrefix(analyst))
}

func TestBuildJobIDPrefix(t *testing.T) {
	manager := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleManager}
	assert.Equal(t, manager.UserID.String()+"/"+manager.UserID.String()+"/", rbac.BuildJobIDPrefix(manager))

	supervisorID := uuid.New()
	analyst := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleAnalyst, SupervisorID: &supervisorID}
	assert.Equal(t, supervisorID.String()+"/"+analyst.UserID.String()+"/", rbac.BuildJobIDPrefix(analyst))
}

func TestParseJobID(t *testing.T) {
	supervisorID, ownerID := uuid.New(), uuid.New()
	jobID := supervisorID.String() + "/" + ownerID.String() + "/" + uuid.NewString()

	gotSupervisor, gotOwner, err := rbac.ParseJobID(jobID)
	require.NoError(t, err)
	assert.Equal(t, supervisorID, gotSupervisor)
	assert.Equal(t, ownerID, gotOwner)
}

func TestParseJobID_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-uuid/also-not/uuid",
		uuid.NewString(), // missing owner and uuid segments
		uuid.NewString() + "/" + uuid.NewString(), // missing trailing uuid segment
	}
	for _, jobID := range cases {
		_, _, err := rbac.ParseJobID(jobID)
		assert.Error(t, err, "jobID=%q", jobID)
	}
}

func TestCanAccessJob(t *testing.T) {
	supervisorID := uuid.New()
	managerID := supervisorID
	analystID := uuid.New()
	otherID := uuid.New()
	jobID := supervisorID.String() + "/" + analystID.String() + "/" + uuid.NewString()

	admin := rbac.Identity{UserID: uuid.New(), Role: rbac.RoleAdmin}
	assert.True(t, rbac.CanAccessJob(admin, jobID), "admin can access any job")

	manager := rbac.Identity{UserID: managerID, Role: rbac.RoleManager}
	assert.True(t, rbac.CanAccessJob(manager, jobID), "manager can access jobs under their supervisor segment")

	otherManager := rbac.Identity{UserID: otherID, Role: rbac.RoleManager}
	assert.False(t, rbac.CanAccessJob(otherManager, jobID), "manager cannot access another manager's jobs")

	analyst := rbac.Identity{UserID: analystID, Role: rbac.RoleAnalyst, SupervisorID: &supervisorID}
	assert.True(t, rbac.CanAccessJob(analyst, jobID), "owning analyst can access their own job")

	otherAnalyst := rbac.Identity{UserID: otherID, Role: rbac.RoleAnalyst, SupervisorID: &supervisorID}
	assert.False(t, rbac.CanAccessJob(otherAnalyst, jobID), "analyst cannot access another analyst's job")

	assert.False(t, rbac.CanAccessJob(analyst, "malformed-job-id"), "malformed job id is never accessible")
}
