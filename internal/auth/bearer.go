package auth

import (
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// taskPathPattern extracts the taskId segment of "/task/{taskId}" so a
// continuation token can be scope-checked against the path it was
// presented on, without the caller having parsed chi route params yet.
var taskPathPattern = regexp.MustCompile(`^/task/([^/]+)$`)

func taskIDFromPath(path string) (string, bool) {
	m := taskPathPattern.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// continuationClaims is the payload of a short-lived HS256 token a caller
// can present to resume a GetTask long-poll without re-presenting its
// original credential. This matters most for the DID scheme, whose
// signed headers are single-use within the replay window: a client
// polling a slow task would otherwise have to mint a fresh signature for
// every retry.
type continuationClaims struct {
	TaskID string `json:"taskId"`
	Owner  string `json:"owner"`
	jwt.RegisteredClaims
}

// ContinuationIssuer signs and verifies tokens scoped to exactly one task
// and one owner key. Grounded on the HS256 branch of the teacher's
// ValidateToken (internal/auth/jwt.go), narrowed to the single signing
// method this system needs; the RS256/JWKS half has no analogue since
// there is no upstream OIDC issuer here.
type ContinuationIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewContinuationIssuer builds an issuer keyed by secret. An empty secret
// disables issuance and verification entirely (Issue/Verify both error).
func NewContinuationIssuer(secret string) *ContinuationIssuer {
	return &ContinuationIssuer{secret: []byte(secret), now: time.Now}
}

func (c *ContinuationIssuer) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Issue mints a token scoped to taskID/owner, valid for ttl.
func (c *ContinuationIssuer) Issue(taskID, owner string, ttl time.Duration) (string, error) {
	if len(c.secret) == 0 {
		return "", jwt.ErrInvalidKey
	}
	claims := continuationClaims{
		TaskID: taskID,
		Owner:  owner,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(c.clock()),
			ExpiresAt: jwt.NewNumericDate(c.clock().Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Verify parses token and, if it is validly signed, unexpired, and scoped
// to taskID, returns the owner key it was minted for. A token scoped to a
// different task is rejected even when the signature itself checks out.
func (c *ContinuationIssuer) Verify(token, taskID string) (string, error) {
	if len(c.secret) == 0 {
		return "", jwt.ErrInvalidKey
	}
	claims := &continuationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	if claims.TaskID != taskID {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Owner, nil
}
