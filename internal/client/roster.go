package client

import (
	"cmp"
	"slices"

	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

// Roster is the set of users a client knows to be online. The server may
// announce a user twice when two peers join at once, so entries are keyed
// by (id, name). A Roster is not safe for concurrent use.
type Roster struct {
	users map[protocol.User]struct{}
}

// NewRoster creates a roster holding users.
func NewRoster(users []protocol.User) *Roster {
	r := &Roster{users: make(map[protocol.User]struct{}, len(users))}
	for _, u := range users {
		r.users[u] = struct{}{}
	}
	return r
}

// Apply updates the roster from a server message and reports whether it
// changed.
func (r *Roster) Apply(msg protocol.ServerMessage) bool {
	switch m := msg.(type) {
	case protocol.NewUserAdded:
		u := protocol.User(m)
		if _, ok := r.users[u]; ok {
			return false
		}
		r.users[u] = struct{}{}
		return true
	case protocol.Disconnected:
		u := protocol.User(m)
		if _, ok := r.users[u]; !ok {
			return false
		}
		delete(r.users, u)
		return true
	case protocol.AllUsers:
		clear(r.users)
		for _, u := range m.Users {
			r.users[u] = struct{}{}
		}
		return true
	}
	return false
}

// Users returns the roster ordered by id.
func (r *Roster) Users() []protocol.User {
	users := make([]protocol.User, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b protocol.User) int {
		return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.Name, b.Name))
	})
	return users
}

// Len returns the number of users.
func (r *Roster) Len() int {
	return len(r.users)
}
