package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedClientContextKey = ContextKey("authenticatedClient")

// AuthenticatedClient identifies the caller once a credential has been
// accepted.
type AuthenticatedClient struct {
	Subject string
	Scheme  string // "Bearer" or "ApiKey"
}

// AuthConfig holds the credentials the middleware validates against.
type AuthConfig struct {
	JWTSecret    string // HMAC secret for Bearer tokens
	APIKeyBcrypt string // bcrypt hash of the accepted API key; empty disables the scheme
}

// AuthMiddleware authenticates requests carrying either a Bearer JWT or an
// ApiKey credential in the Authorization header.
func AuthMiddleware(cfg AuthConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[1] == "" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			var client AuthenticatedClient
			var err error

			switch parts[0] {
			case "Bearer":
				client, err = validateBearer(parts[1], cfg.JWTSecret)
			case "ApiKey":
				client, err = validateAPIKey(parts[1], cfg.APIKeyBcrypt)
			default:
				logger.WarnContext(r.Context(), "Unsupported Authorization scheme", "scheme", parts[0])
				http.Error(w, "Unsupported Authorization scheme", http.StatusUnauthorized)
				return
			}

			if err != nil {
				logger.WarnContext(r.Context(), "Credential validation failed", "scheme", parts[0], "error", err)
				http.Error(w, "Invalid or expired credential", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AuthenticatedClientContextKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateBearer(tokenString, secret string) (AuthenticatedClient, error) {
	if secret == "" {
		return AuthenticatedClient{}, fmt.Errorf("bearer authentication is not configured")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return AuthenticatedClient{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return AuthenticatedClient{}, fmt.Errorf("token is not valid")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return AuthenticatedClient{}, fmt.Errorf("token has no subject")
	}

	return AuthenticatedClient{Subject: subject, Scheme: "Bearer"}, nil
}

func validateAPIKey(key, bcryptHash string) (AuthenticatedClient, error) {
	if bcryptHash == "" {
		return AuthenticatedClient{}, fmt.Errorf("api key authentication is not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(bcryptHash), []byte(key)); err != nil {
		return AuthenticatedClient{}, fmt.Errorf("api key mismatch: %w", err)
	}
	return AuthenticatedClient{Subject: "api-key-client", Scheme: "ApiKey"}, nil
}
