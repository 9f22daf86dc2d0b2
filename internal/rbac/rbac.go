package rbac

type Role string
type Action string

const (
	RoleCustomer    Role = "customer"
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
)

const (
	ActionContentRead   Action = "content.read"
	ActionContentWrite  Action = "content.write"
	ActionContentDelete Action = "content.delete"
	ActionCRMManage     Action = "crm.manage"
	ActionUsersManage   Action = "users.manage"
	ActionChatModerate  Action = "chat.moderate"
	ActionChat          Action = "chat.participate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleContributor:
		return action == ActionContentRead || action == ActionContentWrite || action == ActionChat
	case RoleCustomer:
		return action == ActionChat
	default:
		return false
	}
}

// Normalize maps unknown values to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleContributor, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleCustomer, RoleContributor, RoleAdmin:
		return true
	default:
		return false
	}
}
