package domain

// User is a delivery agent account as the backend reports it. Token is only
// populated on login and signup responses.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role"`
	Token string `json:"token,omitempty"`
}

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup is a delivery agent registration request.
type Signup struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo,omitempty"`
}
