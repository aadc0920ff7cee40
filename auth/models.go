package auth

import "time"

type Role string

const (
	RoleBuyer         Role = "buyer"
	RoleSupplierAdmin Role = "supplier_admin"
	RoleDriver        Role = "driver"
)

// User is the domain representation of an authenticated account. Buyers are
// identified by phone number: the same number that guards the confirm and
// dispute actions on their orders. It mirrors the users table and carries no
// JSON annotations so it can be reused by different presentation layers.
type User struct {
	ID           string
	Phone        string
	FullName     string
	PasswordHash string
	SupplierID   *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Identity is the verified caller extracted from a token.
type Identity struct {
	UserID string
	Phone  string
	Role   Role
}
