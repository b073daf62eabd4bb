package auth

import "time"

type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleSeller      Role = "seller"
	RoleEscrowAgent Role = "escrow_agent"
	RoleSupport     Role = "support"
	RoleAdmin       Role = "admin"
)

// Staff reports whether the role carries platform-level override authority.
func (r Role) Staff() bool {
	return r == RoleSupport || r == RoleAdmin
}

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID             string
	Email          string
	Username       string
	Avatar         *string
	PasswordHash   string
	Role           Role
	Balance        float64
	CompletedDeals int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
