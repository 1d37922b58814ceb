package user

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Password string `json:"-"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
}

// UpdateProfileRequest carries a profile change; both fields are optional
// and empty means "leave unchanged".
type UpdateProfileRequest struct {
	Username string `json:"username" validate:"omitempty,alphanum,min=3,max=50"`
	Avatar   string `json:"avatar" validate:"omitempty,max=255"`
}

// UpdateProfileResponse returns the updated user plus a fresh token when a
// rename invalidated the username baked into the old one.
type UpdateProfileResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token,omitempty"`
}
