package authapi

import (
	"time"

	"voir/cmd/identity"
	"voir/cmd/internal/auth/session"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type registerRequest struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Principal        identity.Profile `json:"principal"`
	AccessToken      string           `json:"accessToken"`
	AccessExpiresAt  time.Time        `json:"accessExpiresAt"`
	RefreshToken     string           `json:"refreshToken"`
	RefreshExpiresAt time.Time        `json:"refreshExpiresAt"`
}

type principalResponse struct {
	Principal identity.Profile `json:"principal"`
}

func toSessionResponse(in session.Issued) sessionResponse {
	return sessionResponse{
		Principal:        in.Principal,
		AccessToken:      in.AccessToken,
		AccessExpiresAt:  in.AccessExpiresAt.UTC(),
		RefreshToken:     in.RefreshToken,
		RefreshExpiresAt: in.RefreshExpiresAt.UTC(),
	}
}
