package jwttoken

import (
	"fmt"

	"libsync/internal/platform/middleware"
)

// ToMiddlewareClaims maps token claims onto the principal the middleware stores.
func ToMiddlewareClaims(claims *Claims) (*middleware.JWTClaims, error) {
	role, err := middleware.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &middleware.JWTClaims{
		Subject: claims.Subject,
		Role:    role,
	}, nil
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
