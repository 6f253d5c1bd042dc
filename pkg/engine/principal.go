package engine

// Roles recognized by the engine. Role resolution itself belongs to the
// identity collaborator; the engine only checks capabilities.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Principal is the authenticated actor behind an engine call. It is passed
// explicitly into every call so authorization is testable without any web
// session machinery.
type Principal struct {
	ID   string
	Role string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanCancel reports whether p may cancel a workflow requested by requesterID.
func (p Principal) CanCancel(requesterID string) bool {
	return p.IsAdmin() || p.ID == requesterID
}

// CanEdit reports whether p may update a workflow's non-status fields.
func (p Principal) CanEdit(requesterID string) bool {
	return p.IsAdmin() || p.ID == requesterID
}

// CanDelete reports whether p may cascade-delete a workflow.
func (p Principal) CanDelete() bool {
	return p.IsAdmin()
}
