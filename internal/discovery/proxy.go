// Package discovery implements NodeProxy (spec.md L8): a thin client to
// the marketplace discovery node, used by both HttpFront and ToolRouter.
//
// Grounded on spec.md's own design note ("shared upstream HTTP client")
// which mirrors the teacher's own absence of a per-request
// http.Client{} anywhere in its codebase — the teacher builds its JWKS
// fetcher's client once in auth.InitJWKSCache and reuses it for the
// life of the process; NodeProxy does the same for discovery calls.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/agoramesh/bridge/internal/bridgeerr"
)

// Timeout is the fixed per-call deadline (spec.md §4.8).
const Timeout = 5 * time.Second

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._:%-]{1,200}$`)

// Agent is the discovery node's representation of a listed agent. Only
// the fields the gateway actually surfaces are typed; everything else
// round-trips through Extra.
type Agent struct {
	DID         string         `json:"did"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Skills      []string       `json:"skills,omitempty"`
	Trust       float64        `json:"trust,omitempty"`
	Extra       map[string]any `json:"-"`
}

// TrustProfile is the discovery node's network-wide trust view of a DID,
// distinct from this gateway's own local TrustProfile.
type TrustProfile struct {
	DID   string  `json:"did"`
	Score float64 `json:"score"`
}

// Proxy is the shared-client NodeProxy.
type Proxy struct {
	BaseURL string
	client  *http.Client
}

// New constructs a Proxy with a single shared client built once, per
// spec.md §9's "shared upstream HTTP client" design note.
func New(baseURL string) *Proxy {
	return &Proxy{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: Timeout},
	}
}

// ValidateDID enforces spec.md §4.8's anti-injection check before a DID
// is ever interpolated into an upstream URL.
func ValidateDID(did string) error {
	if !didPattern.MatchString(did) {
		return bridgeerr.New(bridgeerr.CodeValidation, "did does not match the expected shape")
	}
	for _, r := range did {
		if r < 0x20 || r == 0x7f {
			return bridgeerr.New(bridgeerr.CodeValidation, "did contains a control byte")
		}
	}
	return nil
}

func (p *Proxy) get(ctx context.Context, path string, query url.Values, out any) error {
	u := p.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return bridgeerr.New(bridgeerr.CodeInternal, "failed to build upstream request")
	}
	// The proxy never forwards caller headers upstream (spec.md §4.8).

	resp, err := p.client.Do(req)
	if err != nil {
		return bridgeerr.Withf(bridgeerr.CodeUpstreamError, "discovery node unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusNotFound {
		return bridgeerr.New(bridgeerr.CodeNotFound, "agent not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return bridgeerr.New(bridgeerr.CodeUpstreamError, fmt.Sprintf("discovery node returned %d", resp.StatusCode)).
			WithDetails(map[string]any{"upstreamStatus": resp.StatusCode, "upstreamBody": string(body)})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return bridgeerr.Withf(bridgeerr.CodeUpstreamError, "malformed discovery node response: %v", err)
	}
	return nil
}

// SearchAgents queries the discovery node for listed agents.
func (p *Proxy) SearchAgents(ctx context.Context, query string, minTrust float64, limit int) ([]Agent, error) {
	q := url.Values{}
	q.Set("q", query)
	if minTrust > 0 {
		q.Set("min_trust", fmt.Sprintf("%.2f", minTrust))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var agents []Agent
	if err := p.get(ctx, "/agents", q, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent fetches a single agent's listing by DID.
func (p *Proxy) GetAgent(ctx context.Context, did string) (Agent, error) {
	if err := ValidateDID(did); err != nil {
		return Agent{}, err
	}
	var a Agent
	if err := p.get(ctx, "/agents/"+url.PathEscape(did), nil, &a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// GetTrust fetches the discovery node's network-wide trust view for a DID.
func (p *Proxy) GetTrust(ctx context.Context, did string) (TrustProfile, error) {
	if err := ValidateDID(did); err != nil {
		return TrustProfile{}, err
	}
	var t TrustProfile
	if err := p.get(ctx, "/trust/"+url.PathEscape(did), nil, &t); err != nil {
		return TrustProfile{}, err
	}
	return t, nil
}
