package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// Clé privée pour le contexte (évite les collisions)
type contextKey struct{ name string }

var requesterCtxKey = &contextKey{"requester"}

// Claims : jeton HS256 émis par le fournisseur d'identité.
// sub = user id, user_metadata.college = affiliation.
type Claims struct {
	UserMetadata struct {
		College string `json:"college"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Validate vérifie la signature et renvoie l'appelant
func (a *Authenticator) Validate(tokenString string) (*domain.Requester, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("authentication is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// On refuse tout autre algo que HMAC ("none", RS256 avec la clé en secret...)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return &domain.Requester{
		ID:          claims.Subject,
		Affiliation: strings.TrimSpace(claims.UserMetadata.College),
	}, nil
}

// Middleware décode le header Authorization. Sans header la requête passe
// en anonyme ; un jeton présent mais invalide donne 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token format"})
			return
		}

		requester, err := a.Validate(strings.TrimSpace(tokenStr))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requester)))
	})
}

func WithRequester(ctx context.Context, r *domain.Requester) context.Context {
	return context.WithValue(ctx, requesterCtxKey, r)
}

// ForContext renvoie l'appelant authentifié, nil pour un visiteur
func ForContext(ctx context.Context) *domain.Requester {
	r, _ := ctx.Value(requesterCtxKey).(*domain.Requester)
	return r
}
