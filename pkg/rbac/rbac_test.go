package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOf(t *testing.T) {
	p := Participants{ClientID: 1, FreelancerID: 2}
	assert.Equal(t, RoleClient, RoleOf(1, p))
	assert.Equal(t, RoleFreelancer, RoleOf(2, p))
	assert.Equal(t, RoleNone, RoleOf(3, p))
	assert.Equal(t, RoleNone, RoleOf(0, Participants{ClientID: 1}))
}

func TestCheckPermission(t *testing.T) {
	p := Participants{ClientID: 1, FreelancerID: 2}

	require.NoError(t, CheckPermission(1, p, PermissionFundMilestone))
	require.NoError(t, CheckPermission(2, p, PermissionSubmitMilestone))

	err := CheckPermission(2, p, PermissionFundMilestone)
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, RoleFreelancer, denied.Role)
	assert.Contains(t, err.Error(), "milestone:fund")

	err = CheckPermission(9, p, PermissionReadProject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-participant")
}

func TestCheckAdmin(t *testing.T) {
	require.NoError(t, CheckAdmin(7, []int64{7}, PermissionReplayOutbox))
	assert.Error(t, CheckAdmin(8, []int64{7}, PermissionReplayOutbox))
	assert.Error(t, CheckAdmin(7, []int64{7}, PermissionFundMilestone))
}
