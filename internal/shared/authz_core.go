package shared

// Studio roles issued by the auth service.
const (
	RoleAdmin    = "admin"
	RoleDesigner = "designer"
	RoleViewer   = "viewer"
)

// EditorRoles lists the roles allowed to mutate quotations.
func EditorRoles() []string {
	return []string{RoleAdmin, RoleDesigner}
}

// KnownRole reports whether role is one the studio recognises.
func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDesigner, RoleViewer:
		return true
	}
	return false
}
