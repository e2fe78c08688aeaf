package auth

import "net/http"

// Error is a domain failure with the HTTP status it maps to. Two Errors match
// under errors.Is when their kinds are equal, so handlers can test against the
// package sentinels while the service attaches per-call detail (ban messages).
type Error struct {
	Kind    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrDuplicateEmail           = &Error{Kind: "DuplicateEmail", Status: http.StatusBadRequest, Message: "email is already registered"}
	ErrUsernameInUse            = &Error{Kind: "UsernameInUse", Status: http.StatusBadRequest, Message: "username is already in use"}
	ErrInvalidCredentials       = &Error{Kind: "InvalidCredentials", Status: http.StatusUnauthorized, Message: "invalid email or password"}
	ErrAccountBanned            = &Error{Kind: "AccountBanned", Status: http.StatusUnauthorized, Message: "account is banned"}
	ErrRefreshTokenNotFound     = &Error{Kind: "RefreshTokenNotFound", Status: http.StatusBadRequest, Message: "no refresh token found for account"}
	ErrInvalidRefreshToken      = &Error{Kind: "InvalidOrExpiredRefreshToken", Status: http.StatusBadRequest, Message: "refresh token is invalid or expired"}
	ErrAccountNotFound          = &Error{Kind: "AccountNotFound", Status: http.StatusNotFound, Message: "account not found"}
	ErrEmailInUse               = &Error{Kind: "EmailInUse", Status: http.StatusBadRequest, Message: "email is already in use"}
	ErrInvalidCurrentPassword   = &Error{Kind: "InvalidCurrentPassword", Status: http.StatusBadRequest, Message: "current password is incorrect"}
	ErrProviderAlreadyConnected = &Error{Kind: "ProviderAlreadyConnected", Status: http.StatusBadRequest, Message: "provider is already connected"}
	ErrAlreadyVerified          = &Error{Kind: "AlreadyVerified", Status: http.StatusBadRequest, Message: "account is already verified"}
	ErrInvalidPassword          = &Error{Kind: "InvalidPassword", Status: http.StatusBadRequest, Message: "password is incorrect"}
)

// bannedError clones ErrAccountBanned with a templated, user-facing message.
func bannedError(message string) *Error {
	return &Error{Kind: ErrAccountBanned.Kind, Status: ErrAccountBanned.Status, Message: message}
}
