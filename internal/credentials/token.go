package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	return exp.Time, nil
}

// UserPoolIssuer returns the issuer URL of a Cognito user pool.
func UserPoolIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// JWTVerifier checks ID token signatures, issuer and audience.
type JWTVerifier struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
	methods  []string
}

// NewJWTVerifier creates a verifier from an arbitrary key function.
// methods defaults to RS256.
func NewJWTVerifier(kf jwt.Keyfunc, issuer, audience string, methods ...string) *JWTVerifier {
	if len(methods) == 0 {
		methods = []string{"RS256"}
	}
	return &JWTVerifier{keyfunc: kf, issuer: issuer, audience: audience, methods: methods}
}

// NewUserPoolVerifier fetches the user pool JWKS and keeps it refreshed in the
// background until ctx is cancelled.
func NewUserPoolVerifier(ctx context.Context, region, userPoolID, clientID string) (*JWTVerifier, error) {
	issuer := UserPoolIssuer(region, userPoolID)
	k, err := keyfunc.NewDefaultCtx(ctx, []string{issuer + "/.well-known/jwks.json"})
	if err != nil {
		return nil, fmt.Errorf("loading user pool jwks: %w", err)
	}
	return NewJWTVerifier(k.Keyfunc, issuer, clientID), nil
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, idToken string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(idToken, claims, v.keyfunc, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	if use, _ := claims["token_use"].(string); use != "" && use != "id" {
		return fmt.Errorf("%w: token_use %q", ErrInvalidToken, use)
	}
	return nil
}
