package stackauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to callers. These encode policy- and
// security-relevant decisions, so they are never swallowed or retried;
// the transport layer maps them straight onto responses.
const (
	CodeSignUpNotEnabled              = "SIGN_UP_NOT_ENABLED"
	CodeAnonymousAccountsNotEnabled   = "ANONYMOUS_ACCOUNTS_NOT_ENABLED"
	CodeAuthMethodNotEnabled          = "AUTHENTICATION_METHOD_NOT_ENABLED"
	CodeContactChannelInUse           = "CONTACT_CHANNEL_ALREADY_USED_FOR_AUTH_BY_SOMEONE_ELSE"
	CodeTeamMembershipAlreadyExists   = "TEAM_MEMBERSHIP_ALREADY_EXISTS"
	CodeProviderSignInLinkExists      = "OAUTH_PROVIDER_SIGN_IN_ALREADY_ENABLED_FOR_TYPE"
	CodeRefreshTokenNotFoundOrExpired = "REFRESH_TOKEN_NOT_FOUND_OR_EXPIRED"
	CodeTokenInvalid                  = "TOKEN_INVALID"
	CodeUserNotFound                  = "USER_NOT_FOUND"
	CodeSessionNotFound               = "SESSION_NOT_FOUND"
	CodeContactChannelNotFound        = "CONTACT_CHANNEL_NOT_FOUND"
	CodeVerificationCodeNotFound      = "VERIFICATION_CODE_NOT_FOUND"
	CodeVerificationCodeExpired       = "VERIFICATION_CODE_EXPIRED"
	CodeVerificationCodeAlreadyUsed   = "VERIFICATION_CODE_ALREADY_USED"
	CodeInvalidPollingCode            = "INVALID_POLLING_CODE"
	CodeInvalidCredentials            = "INVALID_CREDENTIALS"
	CodeRedirectURLNotWhitelisted     = "REDIRECT_URL_NOT_WHITELISTED"
	CodeInvalidSuperSecretAdminKey    = "INVALID_SUPER_SECRET_ADMIN_KEY"
	CodeInsufficientAccessType        = "INSUFFICIENT_ACCESS_TYPE"
	CodeInvalidOAuthState             = "INVALID_OAUTH_STATE"
	CodeOAuthProviderNotFound         = "OAUTH_PROVIDER_NOT_FOUND"
	CodeInvalidPKCEVerifier           = "INVALID_PKCE_CODE_VERIFIER"
	CodePasskeyVerificationFailed     = "PASSKEY_VERIFICATION_FAILED"
)

// KnownError is a recoverable, caller-facing failure with a stable code.
// Two KnownErrors compare equal under errors.Is when their codes match,
// so handlers can test against the package-level sentinels regardless of
// per-instance details.
type KnownError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func (e *KnownError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *KnownError) Is(target error) bool {
	var ke *KnownError
	if errors.As(target, &ke) {
		return ke.Code == e.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying extra detail fields.
func (e *KnownError) WithDetails(details map[string]any) *KnownError {
	out := *e
	out.Details = details
	return &out
}

func newKnownError(code, message string, status int) *KnownError {
	return &KnownError{Code: code, Message: message, Status: status}
}

var (
	ErrSignUpNotEnabled = newKnownError(CodeSignUpNotEnabled,
		"Creation of new accounts is not allowed for this project. Please ask the project owner to enable it.", http.StatusBadRequest)
	ErrAnonymousAccountsNotEnabled = newKnownError(CodeAnonymousAccountsNotEnabled,
		"Anonymous accounts are not enabled for this project.", http.StatusBadRequest)
	ErrTeamMembershipAlreadyExists = newKnownError(CodeTeamMembershipAlreadyExists,
		"The user is already a member of the team.", http.StatusConflict)
	ErrProviderSignInLinkExists = newKnownError(CodeProviderSignInLinkExists,
		"Another provider account of the same type already has sign-in enabled for this user.", http.StatusConflict)
	ErrRefreshTokenNotFoundOrExpired = newKnownError(CodeRefreshTokenNotFoundOrExpired,
		"Refresh token not found for this project, or the session has expired/been revoked.", http.StatusUnauthorized)
	ErrTokenInvalid = newKnownError(CodeTokenInvalid,
		"The access token is invalid, expired, or signed with an unknown key.", http.StatusUnauthorized)
	ErrUserNotFound = newKnownError(CodeUserNotFound,
		"User not found.", http.StatusNotFound)
	ErrSessionNotFound = newKnownError(CodeSessionNotFound,
		"Session not found.", http.StatusNotFound)
	ErrContactChannelNotFound = newKnownError(CodeContactChannelNotFound,
		"Contact channel not found.", http.StatusNotFound)
	ErrVerificationCodeNotFound = newKnownError(CodeVerificationCodeNotFound,
		"The verification code does not exist for this project.", http.StatusNotFound)
	ErrVerificationCodeExpired = newKnownError(CodeVerificationCodeExpired,
		"The verification code has expired.", http.StatusBadRequest)
	ErrVerificationCodeAlreadyUsed = newKnownError(CodeVerificationCodeAlreadyUsed,
		"The verification code has already been used.", http.StatusBadRequest)
	ErrInvalidPollingCode = newKnownError(CodeInvalidPollingCode,
		"The polling code is invalid or does not exist.", http.StatusBadRequest)
	ErrInvalidCredentials = newKnownError(CodeInvalidCredentials,
		"The email or password is incorrect.", http.StatusUnauthorized)
	ErrRedirectURLNotWhitelisted = newKnownError(CodeRedirectURLNotWhitelisted,
		"Redirect URL not whitelisted. Did you forget to add this domain to the trusted domains list?", http.StatusBadRequest)
	ErrInvalidSuperSecretAdminKey = newKnownError(CodeInvalidSuperSecretAdminKey,
		"The super secret admin key is not valid for this project.", http.StatusUnauthorized)
	ErrInsufficientAccessType = newKnownError(CodeInsufficientAccessType,
		"The access level of the provided credentials is insufficient for this endpoint.", http.StatusUnauthorized)
	ErrInvalidOAuthState = newKnownError(CodeInvalidOAuthState,
		"The OAuth flow state is missing, expired, or does not match.", http.StatusBadRequest)
	ErrOAuthProviderNotFound = newKnownError(CodeOAuthProviderNotFound,
		"The OAuth provider is not configured for this project.", http.StatusNotFound)
	ErrInvalidPKCEVerifier = newKnownError(CodeInvalidPKCEVerifier,
		"The PKCE code verifier does not match the code challenge.", http.StatusBadRequest)
	ErrPasskeyVerificationFailed = newKnownError(CodePasskeyVerificationFailed,
		"The passkey assertion could not be verified.", http.StatusUnauthorized)
)

// NewContactChannelInUseError reports a contact-value collision. The
// wouldWorkIfVerified hint is true only when the existing channel is
// unverified, meaning re-verification could resolve the conflict.
func NewContactChannelInUseError(wouldWorkIfVerified bool) *KnownError {
	return (&KnownError{
		Code:    CodeContactChannelInUse,
		Message: "This contact channel is already used for authentication by another account.",
		Status:  http.StatusConflict,
	}).WithDetails(map[string]any{
		"would_work_if_email_was_verified": wouldWorkIfVerified,
	})
}

// NewAuthMethodDisabledError reports that a sign-in method is switched
// off in the project's auth policy.
func NewAuthMethodDisabledError(method AuthMethod) *KnownError {
	return (&KnownError{
		Code:    CodeAuthMethodNotEnabled,
		Message: fmt.Sprintf("%s authentication is not enabled for this project.", method),
		Status:  http.StatusBadRequest,
	}).WithDetails(map[string]any{"method": string(method)})
}

// AsKnownError unwraps err into a KnownError if it is one.
func AsKnownError(err error) (*KnownError, bool) {
	var ke *KnownError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
