package provara

// GrantType identifies an OAuth 2.0 grant type as requested via the
// grant_type form parameter (RFC 6749 Section 4).
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeImplicit          GrantType = "implicit"
)

// ResponseType identifies an OAuth 2.0 response type as requested via the
// response_type form parameter.
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeNone    ResponseType = "none"
)

// TokenType identifies a kind of token issued or consumed by the provider.
// It keys per-token expiry timestamps on a Session and is used as the
// token_type_hint vocabulary for introspection and revocation.
type TokenType string

const (
	TokenTypeAuthorizeCode TokenType = "authorize_code"
	TokenTypeAccessToken   TokenType = "access_token"
	TokenTypeRefreshToken  TokenType = "refresh_token"
	TokenTypeIDToken       TokenType = "id_token"
)

// Prompt values for the OIDC prompt parameter.
//
// Note: the reference implementation this core was modeled on shipped "long"
// for the login prompt, which is a typo; the OIDC spec value "login" is used
// here.
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
	PromptSelect  = "select_account"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Recognized form parameter names. Any parameter not hoisted into a typed
// request field stays in the raw form map, which remains the source of truth.
const (
	ParamClientID            = "client_id"
	ParamRedirectURI         = "redirect_uri"
	ParamScope               = "scope"
	ParamResponseType        = "response_type"
	ParamState               = "state"
	ParamGrantType           = "grant_type"
	ParamCode                = "code"
	ParamRefreshToken        = "refresh_token"
	ParamRequest             = "request"
	ParamRequestURI          = "request_uri"
	ParamNonce               = "nonce"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
	ParamToken               = "token"
	ParamTokenTypeHint       = "token_type_hint"
	ParamAccessToken         = "access_token"
	ParamTokenType           = "token_type"
	ParamExpiresIn           = "expires_in"
)

// BearerTokenType is the token_type value emitted in access token responses.
const BearerTokenType = "bearer"
