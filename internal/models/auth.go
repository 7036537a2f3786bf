package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the user level carried in access tokens.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// JWTClaims represents the JWT payload of access tokens issued by the identity service.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Actor identifies who requested an operation.
type Actor struct {
	UserID string
	Role   Role
}

// ActorFromClaims builds an Actor from verified claims.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{Role: RoleGuest}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessUser reports whether the actor may read or write resources owned by userID.
func (a Actor) CanAccessUser(userID string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleUser && a.UserID != "" && a.UserID == userID
}
