package rbac

import "fmt"

// 权限常量
const (
	PermissionReadProject = "project:read"

	PermissionSubmitPlan = "plan:submit"
	PermissionReviewPlan = "plan:review"

	PermissionCreateMilestone = "milestone:create"
	PermissionFundMilestone   = "milestone:fund"
	PermissionSubmitMilestone = "milestone:submit"
	PermissionReviewMilestone = "milestone:review"

	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量：角色是相对于某个项目而言的
const (
	RoleNone       = ""
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleClient: {
		PermissionReadProject,
		PermissionReviewPlan,
		PermissionFundMilestone,
		PermissionReviewMilestone,
	},
	RoleFreelancer: {
		PermissionReadProject,
		PermissionSubmitPlan,
		PermissionCreateMilestone,
		PermissionSubmitMilestone,
	},
	RoleAdmin: {
		PermissionReplayOutbox,
	},
}

// Participants 项目的双方，FreelancerID 为 0 表示尚未接受投标
type Participants struct {
	ClientID     int64
	FreelancerID int64
}

// RoleOf 返回 userID 在项目中的角色
func RoleOf(userID int64, p Participants) string {
	switch {
	case userID <= 0:
		return RoleNone
	case userID == p.ClientID:
		return RoleClient
	case p.FreelancerID != 0 && userID == p.FreelancerID:
		return RoleFreelancer
	default:
		return RoleNone
	}
}

// HasPermission 检查角色是否拥有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户在项目中是否有指定权限
func CheckPermission(userID int64, p Participants, permission string) error {
	role := RoleOf(userID, p)
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// CheckAdmin 检查用户是否在管理员列表中
func CheckAdmin(userID int64, admins []int64, permission string) error {
	for _, id := range admins {
		if id == userID && HasPermission(RoleAdmin, permission) {
			return nil
		}
	}
	return &PermissionDeniedError{UserID: userID, Role: RoleNone, Permission: permission}
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	role := e.Role
	if role == RoleNone {
		role = "non-participant"
	}
	return fmt.Sprintf("user %d (%s) is not allowed to %s", e.UserID, role, e.Permission)
}
