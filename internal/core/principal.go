package core

import "github.com/avelkov/concierge-server/internal/store"

// Principal is the authenticated identity behind a connection or request.
type Principal struct {
	UserID  int64
	IsAdmin bool
}

// Role maps the principal onto the message sender role.
func (p Principal) Role() store.SenderRole {
	if p.IsAdmin {
		return store.SenderAdmin
	}
	return store.SenderUser
}
