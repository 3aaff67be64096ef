package models

type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"omitempty,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
}

type SocialLoginRequest struct {
	Email       string `json:"email" validate:"omitempty,email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	PhotoURL    string `json:"photoURL" validate:"omitempty,url"`
	FirebaseUID string `json:"firebaseUid" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

type UpdateProfileRequest struct {
	Username string `json:"username" validate:"required,username"`
}

// AuthResponse is returned by every flow that issues a session token.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
