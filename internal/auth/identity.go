// Package auth implements the Authenticator (spec.md L1): parsing and
// verifying the four caller credential schemes and producing a stable
// CallerIdentity for downstream rate limiting and task ownership. The
// ReplayGuard (spec.md L2) it consults for DID nonces lives in package
// replay.
package auth

// Scheme identifies which credential scheme a caller presented.
type Scheme string

const (
	SchemeFree         Scheme = "free"
	SchemeDID          Scheme = "did"
	SchemeBearer       Scheme = "bearer"
	SchemeMicropayment Scheme = "micropayment"

	// SchemeContinuation identifies a short-lived token minted by HttpFront
	// itself (internal/auth/bearer.go) to resume a long-poll GetTask
	// request; it is never accepted on any other endpoint.
	SchemeContinuation Scheme = "continuation"
)

// Class is the authorization class derived from the scheme, used to decide
// whether QuotaLimiter applies at all.
type Class string

const (
	ClassPaid             Class = "paid"
	ClassCredentialedFree Class = "credentialed-free"
	ClassAnonymousFree    Class = "anonymous-free"
)

// CallerIdentity is the stable key representing who is calling. The pair
// (Scheme, Subject) uniquely keys all rate and trust state (spec.md §3).
type CallerIdentity struct {
	Scheme  Scheme
	Subject string
	Class   Class
}

// Key returns the stable string key used by TrustStore, QuotaLimiter and
// TaskRegistry ownership checks.
func (c CallerIdentity) Key() string {
	return string(c.Scheme) + ":" + c.Subject
}

// IsPaid reports whether this identity bypasses QuotaLimiter entirely.
func (c CallerIdentity) IsPaid() bool {
	return c.Class == ClassPaid
}

// IsAdmin reports whether this identity is the static admin bearer
// token (internal/auth/dispatch.go's classifyBearer), the only identity
// allowed to read or cancel a task it does not own. Deliberately
// narrower than IsPaid: a micropayment-verified wallet is ClassPaid too,
// but paying for one's own tasks is not the same grant as administering
// everyone else's.
func (c CallerIdentity) IsAdmin() bool {
	return c.Scheme == SchemeBearer && c.Subject == "admin"
}

// MatchesOwner reports whether this identity is authorized to act as the
// owner of a task. A continuation-token identity is scoped at mint time
// to the exact owner key it was issued for, rather than to its own
// (Scheme, Subject) pair, since it represents "permission to poll this
// one task on someone else's behalf", not a standing identity.
func (c CallerIdentity) MatchesOwner(ownerKey string) bool {
	if c.Scheme == SchemeContinuation {
		return c.Subject == ownerKey
	}
	return c.Key() == ownerKey
}

// Anonymous is the identity used when requireAuth is false and no
// credential header is present (spec.md §4.1).
var Anonymous = CallerIdentity{Scheme: SchemeFree, Subject: "anonymous", Class: ClassAnonymousFree}
