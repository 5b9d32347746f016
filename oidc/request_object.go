package oidc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/provara/provara"
)

const (
	// maxRequestObjectSize bounds fetched request_uri bodies
	maxRequestObjectSize = 256 << 10

	algNone = "none"
)

// RequestObjectHandler verifies a client-signed request object and overlays
// its claims onto the authorize form. It implements
// provara.RequestObjectProcessor.
//
// Verification is pinned to the single algorithm the client registered;
// accepting a runtime-negotiated algorithm would open the door to alg
// confusion attacks. The expected issuer is the client ID and the expected
// audience is this provider's configured audience value.
type RequestObjectHandler struct {
	// Resolver finds the client's verification key
	Resolver *KeyResolver

	// HTTPClient fetches request_uri bodies
	HTTPClient *http.Client

	// Audience is the aud value request objects must carry
	Audience string

	// ClockSkew is the leeway for time-based claim checks.
	// Zero selects the default of 30 seconds.
	ClockSkew time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

var _ provara.RequestObjectProcessor = (*RequestObjectHandler)(nil)

// ProcessForm verifies the request object carried in the request or
// request_uri form parameter and overlays its claims onto the form. The
// provider guarantees exactly one of the two parameters is present.
func (h *RequestObjectHandler) ProcessForm(ctx context.Context, client *provara.Client, form url.Values) error {
	raw := form.Get(provara.ParamRequest)

	if uri := form.Get(provara.ParamRequestURI); uri != "" {
		if !registered(uri, client.RequestURIs) {
			return provara.ErrInvalidRequest("request_uri " + uri + " is not pre-registered for this client")
		}
		body, err := h.fetchRequestObject(ctx, uri)
		if err != nil {
			return provara.ErrServerError(err.Error())
		}
		raw = body
	}

	claims, err := h.verify(ctx, client, raw)
	if err != nil {
		return err
	}

	for key, value := range claims {
		switch key {
		case provara.ParamRequest, provara.ParamRequestURI:
			// A request object must not nest another one
			continue
		}
		form.Set(key, claimToFormValue(value))
	}
	return nil
}

// verify parses and validates the request object against the client's
// registered algorithm and key material. The required iat and exp claims and
// the issuer/audience pinning make a replayed or re-targeted object fail
// closed.
func (h *RequestObjectHandler) verify(ctx context.Context, client *provara.Client, raw string) (jwt.MapClaims, error) {
	alg := client.RequestObjectSigningAlg
	if alg == "" {
		return nil, provara.ErrInvalidRequest("the client has not registered a request object signing algorithm")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(client.ID),
		jwt.WithAudience(h.Audience),
		jwt.WithLeeway(h.leeway()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	keyfunc := func(t *jwt.Token) (any, error) {
		if alg == algNone {
			return jwt.UnsafeAllowNoneSignatureType, nil
		}
		kid, _ := t.Header["kid"].(string)
		return h.Resolver.ResolveKey(ctx, client.JSONWebKeys, client.JSONWebKeysURI, kid)
	}

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, keyfunc); err != nil {
		return nil, provara.ErrInvalidRequest("request object rejected: " + err.Error())
	}
	if _, ok := claims["iat"]; !ok {
		return nil, provara.ErrInvalidRequest("request object is missing the required iat claim")
	}
	return claims, nil
}

func (h *RequestObjectHandler) fetchRequestObject(ctx context.Context, uri string) (string, error) {
	httpClient := h.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("building request_uri fetch: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching request_uri %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching request_uri %s: unexpected status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectSize))
	if err != nil {
		return "", fmt.Errorf("reading request_uri body: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (h *RequestObjectHandler) leeway() time.Duration {
	if h.ClockSkew <= 0 {
		return provara.DefaultClockSkewTolerance
	}
	return h.ClockSkew
}

func registered(uri string, registeredURIs []string) bool {
	for _, r := range registeredURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// claimToFormValue renders a claim as a form parameter. Scope-style string
// lists collapse to their space-joined wire form.
func claimToFormValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, claimToFormValue(item))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(val)
	}
}
