package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/replay"
)

// Authenticator classifies and verifies the four caller credential schemes
// behind a static dispatch table, per the "tagged variant, no dynamic-type
// polymorphism" design note in spec.md §9.
type Authenticator struct {
	RequireAuth  bool
	AdminToken   string
	Replay       *replay.Guard
	Micropayment MicropaymentVerifier
	Now          func() time.Time

	// Continuation is optional; when set, a GET on /task/{taskId} accepts
	// a continuation token in place of the caller's original credential
	// (internal/auth/bearer.go). Nil disables the continuation scheme
	// entirely, leaving Bearer meaning only the static admin token.
	Continuation *ContinuationIssuer
}

// New builds an Authenticator. A nil Micropayment verifier falls back to
// NoopMicropaymentVerifier so the scheme fails closed rather than panics.
func New(requireAuth bool, adminToken string, guard *replay.Guard, verifier MicropaymentVerifier) *Authenticator {
	if verifier == nil {
		verifier = NoopMicropaymentVerifier{}
	}
	return &Authenticator{
		RequireAuth:  requireAuth,
		AdminToken:   adminToken,
		Replay:       guard,
		Micropayment: verifier,
		Now:          time.Now,
	}
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Authenticate classifies and verifies the Authorization header for one
// HTTP request in a single call. method and path are needed only for the
// DID scheme's signed-payload check.
func (a *Authenticator) Authenticate(ctx context.Context, header, method, path string) (CallerIdentity, error) {
	header = strings.TrimSpace(header)

	if header == "" {
		if a.RequireAuth {
			return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthRequired, "credential required")
		}
		return Anonymous, nil
	}

	switch {
	case strings.HasPrefix(header, "FreeTier "):
		return a.classifyFree(header)
	case strings.HasPrefix(header, "DID "):
		return a.verifyDID(header, method, path)
	case strings.HasPrefix(header, "Bearer "):
		return a.classifyBearer(header, method, path)
	case strings.HasPrefix(header, "X-Payment ") || strings.HasPrefix(header, "XPayment "):
		return a.verifyMicropayment(ctx, header)
	default:
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthUnrecognized, "unrecognized credential scheme")
	}
}

func (a *Authenticator) classifyFree(header string) (CallerIdentity, error) {
	tag := strings.TrimPrefix(header, "FreeTier ")
	if !freeTagPattern.MatchString(tag) {
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthMalformed, "invalid FreeTier tag")
	}
	return CallerIdentity{Scheme: SchemeFree, Subject: tag, Class: ClassAnonymousFree}, nil
}

func (a *Authenticator) classifyBearer(header, method, path string) (CallerIdentity, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthMalformed, "empty bearer token")
	}

	if a.AdminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) == 1 {
		return CallerIdentity{Scheme: SchemeBearer, Subject: "admin", Class: ClassPaid}, nil
	}

	if a.Continuation != nil && method == http.MethodGet {
		if taskID, ok := taskIDFromPath(path); ok {
			if owner, err := a.Continuation.Verify(token, taskID); err == nil {
				return CallerIdentity{Scheme: SchemeContinuation, Subject: owner, Class: ClassCredentialedFree}, nil
			}
		}
	}

	return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthInvalid, "invalid bearer token")
}

func (a *Authenticator) verifyDID(header, method, path string) (CallerIdentity, error) {
	parsed, err := parseDIDHeader(header)
	if err != nil {
		return CallerIdentity{}, bridgeerr.Withf(bridgeerr.CodeAuthMalformed, "malformed DID header: %v", err)
	}

	if !replay.IsFresh(parsed.Timestamp, a.now()) {
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthStale, "DID timestamp outside acceptance window")
	}

	if err := verifyDIDSignature(parsed, method, path); err != nil {
		return CallerIdentity{}, bridgeerr.Withf(bridgeerr.CodeAuthInvalid, "DID signature invalid: %v", err)
	}

	if a.Replay != nil && !a.Replay.Check(parsed.DID, parsed.Timestamp) {
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthReplay, "DID nonce already used")
	}

	return CallerIdentity{Scheme: SchemeDID, Subject: parsed.DID, Class: ClassCredentialedFree}, nil
}

func (a *Authenticator) verifyMicropayment(ctx context.Context, header string) (CallerIdentity, error) {
	var opaque string
	switch {
	case strings.HasPrefix(header, "X-Payment "):
		opaque = strings.TrimPrefix(header, "X-Payment ")
	default:
		opaque = strings.TrimPrefix(header, "XPayment ")
	}
	if opaque == "" {
		return CallerIdentity{}, bridgeerr.New(bridgeerr.CodeAuthMalformed, "empty X-Payment value")
	}

	subject, err := a.Micropayment.Verify(ctx, opaque)
	if err != nil {
		// Failed verification must not consume quota (spec.md §4.1); since
		// this identity is never returned as Paid, the caller must treat
		// any non-nil error here as terminal without admitting quota.
		return CallerIdentity{}, bridgeerr.Withf(bridgeerr.CodeAuthInvalid, "micropayment verification failed: %v", err)
	}

	return CallerIdentity{Scheme: SchemeMicropayment, Subject: subject, Class: ClassPaid}, nil
}
