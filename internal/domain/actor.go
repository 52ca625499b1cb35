package domain

import "fmt"

type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleShipper Role = "shipper"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleBuyer, RoleSeller, RoleShipper, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// User is the directory record of an account. Only the fields needed to vet
// a carrier are kept.
type User struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Status string `json:"status"`
}

func (u *User) Active() bool {
	return u.Status == "" || u.Status == "active"
}
