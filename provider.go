package provara

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
)

// RequestReader is the boundary to the transport layer: a parsed multi-valued
// form plus individual header lookups. The core never parses raw bytes.
type RequestReader interface {
	Form() url.Values
	Header(name string) string
}

// ResponseWriter is the boundary back to the transport layer. The core hands
// it fully-formed redirect locations or JSON-ready maps.
type ResponseWriter interface {
	WriteRedirect(status int, location string, header http.Header)
	WriteJSON(status int, header http.Header, body map[string]any)
}

// Provider binds the endpoint handler chains to request construction and
// response encoding. It is stateless between calls; all mutable state lives
// in storage behind the injected contracts.
type Provider struct {
	// AuthorizeHandlers is the authorize chain, run in order
	AuthorizeHandlers []AuthorizeEndpointHandler

	// TokenHandlers is the token chain
	TokenHandlers []TokenEndpointHandler

	// Introspectors is the introspection chain
	Introspectors []TokenIntrospector

	// Revokers is the revocation chain
	Revokers []TokenRevoker

	// RequestObjectProcessor handles the request / request_uri parameters.
	// Nil rejects requests carrying either parameter.
	RequestObjectProcessor RequestObjectProcessor

	clients ClientRegistry
	config  *Config
	logger  *slog.Logger
}

// New creates a provider from a client registry and configuration. Secure
// defaults are applied to a copy of the config; required fields are validated
// once here.
func New(clients ClientRegistry, config *Config) (*Provider, error) {
	if clients == nil {
		return nil, ErrServerError("client registry is required")
	}
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := applySecureDefaults(config, logger)
	if err := cfg.validate(); err != nil {
		return nil, ErrServerError(err.Error())
	}

	return &Provider{
		clients: clients,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Config returns the effective configuration after defaults
func (p *Provider) Config() *Config {
	return p.config
}

// NewAuthorizeRequest builds and validates an AuthorizeRequest from a parsed
// request. It resolves the client, processes any signed request object,
// checks response types against the client's registration, resolves the
// redirect URI, and enforces state entropy.
func (p *Provider) NewAuthorizeRequest(ctx context.Context, reader RequestReader) (*AuthorizeRequest, error) {
	ar := NewAuthorizeRequest()
	ar.Form = cloneForm(reader.Form())

	clientID := ar.Form.Get(ParamClientID)
	if clientID == "" {
		return nil, ErrMissingParameter(ParamClientID)
	}

	client, err := p.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidClient("unknown client " + clientID)
		}
		return nil, ErrServerError(err.Error())
	}
	ar.Client = client

	if err := p.processRequestObject(ctx, ar); err != nil {
		return nil, err
	}

	rawResponseTypes := ar.Form.Get(ParamResponseType)
	if rawResponseTypes == "" {
		return nil, ErrMissingParameter(ParamResponseType)
	}
	ar.ResponseTypes = SplitArguments(rawResponseTypes)
	for _, rt := range ar.ResponseTypes {
		switch ResponseType(rt) {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken, ResponseTypeNone:
		default:
			return nil, ErrInvalidRequest("unknown response type " + rt)
		}
		if !client.GetResponseTypes().Has(rt) {
			return nil, ErrUnauthorizedClient("the client is not allowed to request response type " + rt)
		}
	}

	redirectURI, err := ResolveRedirectURI(ar.Form.Get(ParamRedirectURI), client.RedirectURIs)
	if err != nil {
		return nil, err
	}
	if err := ValidateRedirectURI(redirectURI); err != nil {
		return nil, err
	}
	ar.RedirectURI = redirectURI

	state := ar.Form.Get(ParamState)
	if state == "" {
		return nil, ErrMissingParameter(ParamState)
	}
	if len(state) < p.config.MinStateLength {
		return nil, ErrInvalidRequest("state parameter is too short to provide CSRF protection")
	}
	ar.State = state

	ar.RequestedScopes = SplitArguments(ar.Form.Get(ParamScope))

	if inst := p.config.Instrumentation; inst != nil {
		inst.Metrics().AuthorizeRequests.Add(ctx, 1)
	}
	p.logger.Debug("authorize request accepted",
		"request_id", ar.ID,
		"client_id", client.ID,
		"response_types", ar.ResponseTypes.String())

	return ar, nil
}

// processRequestObject applies the request / request_uri parameters. The two
// are mutually exclusive; supplying both is a hard error.
func (p *Provider) processRequestObject(ctx context.Context, ar *AuthorizeRequest) error {
	hasRequest := ar.Form.Get(ParamRequest) != ""
	hasRequestURI := ar.Form.Get(ParamRequestURI) != ""

	if !hasRequest && !hasRequestURI {
		return nil
	}
	if hasRequest && hasRequestURI {
		return ErrInvalidRequest("request and request_uri are mutually exclusive")
	}
	if p.RequestObjectProcessor == nil {
		return ErrInvalidRequest("signed request objects are not supported")
	}
	return p.RequestObjectProcessor.ProcessForm(ctx, ar.Client, ar.Form)
}

// NewAuthorizeResponse runs the authorize chain. Every delegate is invoked
// unconditionally; afterwards the completion state machine is checked, and an
// unhandled requested response type fails the whole request.
func (p *Provider) NewAuthorizeResponse(ctx context.Context, ar *AuthorizeRequest, session Session) (*AuthorizeResponse, error) {
	if session == nil {
		return nil, ErrServerError("a session is required to build an authorize response")
	}
	ar.Session = session

	resp := NewAuthorizeResponse()
	for _, h := range p.AuthorizeHandlers {
		if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
			return nil, err
		}
	}

	if !ar.HasAllResponseTypesBeenHandled() {
		for _, rt := range ar.ResponseTypes {
			if !ar.IsResponseTypeHandled(ResponseType(rt)) {
				return nil, ErrUnsupportedResponseType("no handler satisfied response type " + rt)
			}
		}
	}
	return resp, nil
}

// WriteAuthorizeResponse encodes the response as a redirect to the request's
// resolved redirect URI.
func (p *Provider) WriteAuthorizeResponse(rw ResponseWriter, ar *AuthorizeRequest, resp *AuthorizeResponse) {
	location, err := resp.RedirectURL(ar.RedirectURI)
	if err != nil {
		p.WriteAuthorizeError(rw, ar, err)
		return
	}
	rw.WriteRedirect(http.StatusSeeOther, location, resp.Header())
}

// WriteAuthorizeError encodes a protocol error. When the request's redirect
// URI resolved and validated, the error redirects back to the client;
// otherwise it is written as JSON, because redirecting to an unvalidated URI
// would create an open redirector.
func (p *Provider) WriteAuthorizeError(rw ResponseWriter, ar *AuthorizeRequest, err error) {
	e := asError(err)

	if ar != nil && ar.RedirectURI != "" && ar.IsRedirectURIValid() {
		target, parseErr := url.Parse(ar.RedirectURI)
		if parseErr == nil {
			q := target.Query()
			q.Set("error", e.Code)
			q.Set("error_description", e.Description)
			if ar.State != "" {
				q.Set(ParamState, ar.State)
			}
			target.RawQuery = q.Encode()
			rw.WriteRedirect(http.StatusSeeOther, target.String(), nil)
			return
		}
	}

	rw.WriteJSON(e.Status, nil, map[string]any{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

// NewAccessRequest builds an AccessRequest from a parsed request and runs the
// grant phase of the token chain. Client credential authentication is the
// transport's responsibility; the core only resolves the client reference.
func (p *Provider) NewAccessRequest(ctx context.Context, reader RequestReader, session Session) (*AccessRequest, error) {
	r := NewAccessRequest()
	r.Form = cloneForm(reader.Form())

	rawGrantTypes := r.Form.Get(ParamGrantType)
	if rawGrantTypes == "" {
		return nil, ErrMissingParameter(ParamGrantType)
	}
	r.GrantTypes = SplitArguments(rawGrantTypes)

	clientID := r.Form.Get(ParamClientID)
	if clientID == "" {
		return nil, ErrMissingParameter(ParamClientID)
	}
	client, err := p.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidClient("unknown client " + clientID)
		}
		return nil, ErrServerError(err.Error())
	}
	r.Client = client

	for _, gt := range r.GrantTypes {
		if !client.GetGrantTypes().Has(gt) {
			return nil, ErrUnauthorizedClient("the client is not allowed to use grant type " + gt)
		}
	}

	if session == nil {
		session = &DefaultSession{}
	}
	r.Session = session
	r.RequestedScopes = SplitArguments(r.Form.Get(ParamScope))

	supported := false
	for _, h := range p.TokenHandlers {
		if !h.CanHandleTokenEndpointRequest(r) {
			continue
		}
		supported = true
		if err := h.HandleTokenEndpointRequest(ctx, r); err != nil {
			return nil, err
		}
	}
	if !supported {
		return nil, ErrUnsupportedGrantType("no handler is able to serve grant type " + r.GrantTypes.String())
	}

	if inst := p.config.Instrumentation; inst != nil {
		inst.Metrics().AccessRequests.Add(ctx, 1)
	}
	return r, nil
}

// NewAccessResponse runs the populate phase of the token chain and verifies
// that an access token was actually produced.
func (p *Provider) NewAccessResponse(ctx context.Context, r *AccessRequest) (*AccessResponse, error) {
	resp := NewAccessResponse()
	for _, h := range p.TokenHandlers {
		if !h.CanHandleTokenEndpointRequest(r) {
			continue
		}
		if err := h.PopulateTokenEndpointResponse(ctx, r, resp); err != nil {
			return nil, err
		}
	}

	if resp.GetAccessToken() == "" || resp.GetTokenType() == "" {
		return nil, ErrServerError("the token chain produced no access token")
	}
	return resp, nil
}

// WriteAccessResponse writes the token endpoint result as JSON
func (p *Provider) WriteAccessResponse(rw ResponseWriter, resp *AccessResponse) {
	header := http.Header{}
	header.Set("Cache-Control", "no-store")
	header.Set("Pragma", "no-cache")
	rw.WriteJSON(http.StatusOK, header, resp.ToMap())
}

// WriteAccessError writes a token endpoint error as JSON
func (p *Provider) WriteAccessError(rw ResponseWriter, err error) {
	e := asError(err)
	rw.WriteJSON(e.Status, nil, map[string]any{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

// IntrospectToken runs the introspection chain. The token type is a hint
// only: hint-matched delegates are tried first, order otherwise stable. The
// first delegate producing a request wins. When none does, the result is an
// explicitly inactive response tagged with the hinted type, not an error.
func (p *Provider) IntrospectToken(ctx context.Context, token string, hint TokenType) (*IntrospectionResponse, error) {
	if inst := p.config.Instrumentation; inst != nil {
		inst.Metrics().Introspections.Add(ctx, 1)
	}

	var reason error
	for _, d := range orderByHint(p.Introspectors, hint, TokenIntrospector.CanIntrospect) {
		req, tt, err := d.IntrospectToken(ctx, token)
		if err == nil && req != nil {
			return &IntrospectionResponse{Active: true, TokenType: tt, AccessRequest: req}, nil
		}
		if err != nil {
			if !isTokenInvalidity(err) {
				return nil, err
			}
			if reason == nil {
				reason = err
			}
		}
	}

	return &IntrospectionResponse{Active: false, TokenType: hint, Reason: reason}, nil
}

// RevokeToken runs the revocation chain on behalf of clientID. Delegates
// supporting the hinted type run first; the first successful revocation ends
// the chain. A token found nowhere is inert. A client identity mismatch is a
// security failure and aborts the chain hard.
func (p *Provider) RevokeToken(ctx context.Context, token string, hint TokenType, clientID string) error {
	for _, d := range orderByHint(p.Revokers, hint, TokenRevoker.CanRevoke) {
		revoked, err := d.RevokeToken(ctx, token, clientID)
		if err != nil {
			if errors.Is(err, ErrClientMismatch) {
				if p.config.Auditor != nil {
					p.config.Auditor.LogClientMismatch(clientID, "revocation")
				}
				return err
			}
			if !isTokenInvalidity(err) {
				return err
			}
			continue
		}
		if revoked {
			if inst := p.config.Instrumentation; inst != nil {
				inst.Metrics().Revocations.Add(ctx, 1)
			}
			return nil
		}
	}
	return nil
}

// orderByHint returns delegates with hint-supporting ones first, preserving
// the original order within each partition.
func orderByHint[T any](delegates []T, hint TokenType, supports func(T, TokenType) bool) []T {
	ordered := make([]T, 0, len(delegates))
	var rest []T
	for _, d := range delegates {
		if supports(d, hint) {
			ordered = append(ordered, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(ordered, rest...)
}

// isTokenInvalidity reports whether err belongs to the soft token-invalidity
// taxonomy that best-effort chains may continue past.
func isTokenInvalidity(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrMalformedToken(""))
}

// asError coerces any error into a typed *Error, wrapping foreign errors as
// upstream failures so the transport mapping stays lossless.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError(err.Error())
}

func cloneForm(form url.Values) url.Values {
	clone := make(url.Values, len(form))
	for key, values := range form {
		clone[key] = append([]string(nil), values...)
	}
	return clone
}
