package model

import "strings"

// Role is the capability set of an authenticated session.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleExpert   Role = "expert"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated actor of a session. The role is resolved
// once when the session starts and is not re-derived per render.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// IsStaff reports whether the principal acts on the expert side.
func (p Principal) IsStaff() bool {
	return p.Role == RoleExpert || p.Role == RoleAdmin
}

// Sender returns the chat sender a principal writes as.
func (p Principal) Sender() Sender {
	if p.IsStaff() {
		return SenderExpert
	}
	return SenderCustomer
}

// ResolveRole maps an email to a role. Addresses in admins are admins;
// addresses under staffDomain are experts; everyone else is a customer.
func ResolveRole(email, staffDomain string, admins []string) Role {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range admins {
		if strings.ToLower(strings.TrimSpace(a)) == email {
			return RoleAdmin
		}
	}
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(staffDomain), "@"))
	if domain != "" && strings.HasSuffix(email, "@"+domain) {
		return RoleExpert
	}
	return RoleCustomer
}

// Counterpart returns the sender whose messages a reader in role r reads.
func (r Role) Counterpart() Sender {
	if r == RoleCustomer {
		return SenderExpert
	}
	return SenderCustomer
}

// UnreadCount returns how many messages from the opposite side the reader
// has not read yet. System messages never count.
func UnreadCount(task *TaskRequest, reader Role) int {
	if task == nil {
		return 0
	}
	from := reader.Counterpart()
	n := 0
	for _, m := range task.Messages {
		if m.Sender == from && !m.Read {
			n++
		}
	}
	return n
}
