package auth

import "time"

type Config struct {
	AllowedEmailDomains []string      `env:"AUTH_ALLOWED_EMAIL_DOMAINS" envDefault:"campus.edu"` // AllowedEmailDomains restricts registration to these email domains.
	TokenTTL            time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`                    // TokenTTL is the lifetime of an issued access token.
	BcryptCost          int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`                   // BcryptCost is the bcrypt work factor for password hashing.
}
