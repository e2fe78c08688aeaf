package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Moderation carries the ban state checked at login.
type Moderation struct {
	IsBanned      bool       `bson:"isBanned" json:"isBanned"`
	BanReason     string     `bson:"banReason,omitempty" json:"banReason,omitempty"`
	BanExpiration *time.Time `bson:"banExpiration,omitempty" json:"banExpiration,omitempty"`
}

// Verification tracks the email-verification request state. Sending the
// verification mail is owned by an external worker, not this service.
type Verification struct {
	IsVerified              bool       `bson:"isVerified" json:"isVerified"`
	VerificationRequested   bool       `bson:"verificationRequested" json:"verificationRequested"`
	VerificationRequestDate *time.Time `bson:"verificationRequestDate,omitempty" json:"verificationRequestDate,omitempty"`
}

// Profile is opaque to the session service; it is stored and returned as-is.
type Profile struct {
	Bio   string   `bson:"bio,omitempty" json:"bio,omitempty"`
	Links []string `bson:"links,omitempty" json:"links,omitempty"`
}

// Account is an identity record in the accounts collection.
type Account struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	Username     string             `bson:"username" json:"username"`
	PasswordHash string             `bson:"passwordHash" json:"-"` // never expose
	Role         Role               `bson:"role" json:"role"`
	IsAdmin      bool               `bson:"isAdmin" json:"isAdmin"`
	Moderation   Moderation         `bson:"moderation" json:"moderation"`
	Verification Verification       `bson:"verification" json:"verification"`
	Profile      Profile            `bson:"profile,omitempty" json:"profile,omitempty"`
	Providers    []string           `bson:"providers,omitempty" json:"providers,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Admin reports whether the account carries admin privileges, either via the
// explicit flag or the admin role.
func (a *Account) Admin() bool {
	return a.IsAdmin || a.Role == RoleAdmin
}

// HasProvider reports whether the given social provider is already connected.
func (a *Account) HasProvider(provider string) bool {
	for _, p := range a.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// RefreshTokenRecord holds the ordered refresh-token sequence for one account,
// oldest first. The sequence is capped at TokenHistoryCap entries; only the
// last element is ever decoded during refresh.
type RefreshTokenRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"userId"`
	Tokens    []string           `bson:"tokens" json:"tokens"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// TokenHistoryCap bounds the refresh-token sequence per account (FIFO eviction).
const TokenHistoryCap = 5

// Last returns the most recently issued refresh token, or "" when empty.
func (r *RefreshTokenRecord) Last() string {
	if r == nil || len(r.Tokens) == 0 {
		return ""
	}
	return r.Tokens[len(r.Tokens)-1]
}
