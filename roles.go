package identity

// RoleValidator defines the interface for role-based access control validation
type RoleValidator interface {
	// HasRole checks if the caller has a specific role
	HasRole(role string) bool

	// IsAtLeast checks if the caller's role is at least the minimum required role
	IsAtLeast(minRole Role) bool
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	roleHierarchy := map[Role]int{
		RoleMember:  0,
		RoleManager: 1,
		RoleAdmin:   2,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleMember,
		RoleManager,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

// ValidAuthMode checks the mode is one of the known values
func ValidAuthMode(mode AuthMode) bool {
	switch mode {
	case AuthModeDelegated, AuthModeMigrating, AuthModeLocal:
		return true
	default:
		return false
	}
}
