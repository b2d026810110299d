package auth

import "errors"

var (
	// ErrEmailDomainNotAllowed is returned when the email does not belong
	// to one of the community's allowed domains.
	ErrEmailDomainNotAllowed = errors.New("email domain is not allowed")

	// ErrEmailTaken is returned when a user with the email already exists.
	ErrEmailTaken = errors.New("email is already registered")

	// ErrInvalidCredentials is returned on login with a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidToken is returned when a token cannot be resolved to a user.
	ErrInvalidToken = errors.New("invalid or expired token")
)
