package domain

// Identity is the signed-in user as known to the data service.
type Identity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// IdentitySource reports the current authentication state.
// A nil identity means nobody is signed in.
type IdentitySource interface {
	CurrentUser() *Identity
}
