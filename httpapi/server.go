// Package httpapi exposes the auth core over REST. Every route is
// project-scoped via headers, request bodies and responses are
// snake_case JSON, and typed core errors map onto stable codes and
// statuses.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	stackauth "github.com/yonasBSD/stack-sub000"
	"github.com/yonasBSD/stack-sub000/oauthflow"
	"github.com/yonasBSD/stack-sub000/tokens"
)

// Request headers carrying the project scope and credentials.
const (
	HeaderProjectID    = "x-stack-project-id"
	HeaderBranchID     = "x-stack-branch-id"
	HeaderAccessType   = "x-stack-access-type"
	HeaderAccessToken  = "x-stack-access-token"
	HeaderRefreshToken = "x-stack-refresh-token"
	HeaderServerKey    = "x-stack-secret-server-key"
	HeaderAdminKey     = "x-stack-super-secret-admin-key"
)

// ProjectConfig is everything the API needs to know about one project.
type ProjectConfig struct {
	Policy    stackauth.AuthPolicy
	ServerKey string
	AdminKey  string
}

// ProjectConfigSource resolves project configuration per request. The
// policy snapshot it returns is treated as immutable for the request.
type ProjectConfigSource interface {
	ProjectConfig(projectID string) (*ProjectConfig, error)
}

// StaticProjects is a fixed in-memory ProjectConfigSource.
type StaticProjects map[string]*ProjectConfig

func (s StaticProjects) ProjectConfig(projectID string) (*ProjectConfig, error) {
	cfg, ok := s[projectID]
	if !ok {
		return nil, stackauth.ErrUserNotFound.WithDetails(map[string]any{"project_id": projectID})
	}
	return cfg, nil
}

// Server holds the wired core services and produces the router.
type Server struct {
	Store    stackauth.Store
	Projects ProjectConfigSource

	Resolver *stackauth.Resolver
	Sessions *stackauth.Sessions
	Password *stackauth.PasswordAuth
	OTP      *stackauth.OTPAuth
	Passkey  *stackauth.PasskeyAuth
	Channels *stackauth.Channels
	OAuth    *oauthflow.Controller
	Codec    *tokens.Codec

	Metrics *Metrics
	Limiter *RateLimiter
	Logger  *slog.Logger

	// SessionTTL bounds sessions created by sign-in endpoints; zero
	// means sessions never expire on their own.
	SessionTTL time.Duration
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	// Key discovery is project-scoped but unauthenticated.
	r.HandleFunc("/api/v1/projects/{projectId}/.well-known/jwks.json", s.handleJWKS).Methods("GET")

	api := r.PathPrefix("/api/v1/auth").Subrouter()
	api.Use(s.withRequestContext)

	api.Handle("/password/sign-in", s.limit("password-sign-in", http.HandlerFunc(s.handlePasswordSignIn))).Methods("POST")
	api.HandleFunc("/password/sign-up", s.handlePasswordSignUp).Methods("POST")
	api.Handle("/password/update", s.requireUser(s.handlePasswordUpdate)).Methods("POST")
	api.Handle("/password/set", s.requireUser(s.handlePasswordSet)).Methods("POST")

	api.Handle("/otp/send-sign-in-code", s.limit("otp-send", http.HandlerFunc(s.handleOTPSend))).Methods("POST")
	api.HandleFunc("/otp/sign-in", s.handleOTPSignIn).Methods("POST")

	api.HandleFunc("/anonymous/sign-up", s.handleAnonymousSignUp).Methods("POST")

	api.Handle("/passkey/register/begin", s.requireUser(s.handlePasskeyRegisterBegin)).Methods("POST")
	api.Handle("/passkey/register/finish", s.requireUser(s.handlePasskeyRegisterFinish)).Methods("POST")
	api.HandleFunc("/passkey/sign-in/begin", s.handlePasskeySignInBegin).Methods("POST")
	api.HandleFunc("/passkey/sign-in/finish", s.handlePasskeySignInFinish).Methods("POST")

	api.HandleFunc("/oauth/authorize/{providerId}", s.handleOAuthAuthorize).Methods("GET")
	api.HandleFunc("/oauth/callback/{providerId}", s.handleOAuthCallback).Methods("GET")
	api.HandleFunc("/oauth/token", s.handleOAuthToken).Methods("POST")

	api.HandleFunc("/sessions/refresh", s.handleSessionRefresh).Methods("POST")
	api.HandleFunc("/sessions/sign-out", s.handleSignOut).Methods("POST")
	api.Handle("/sessions", s.requireUser(s.handleSessionList)).Methods("GET")
	api.Handle("/sessions/{sessionId}", s.requireUser(s.handleSessionRevoke)).Methods("DELETE")
	api.Handle("/sessions/current/all", s.requireUser(s.handleRevokeAll)).Methods("DELETE")

	api.Handle("/contact-channels", s.requireUser(s.handleChannelList)).Methods("GET")
	api.Handle("/contact-channels", s.requireUser(s.handleChannelCreate)).Methods("POST")
	api.Handle("/contact-channels/verify", http.HandlerFunc(s.handleChannelVerify)).Methods("POST")
	api.Handle("/contact-channels/{channelId}", s.requireUser(s.handleChannelGet)).Methods("GET")
	api.Handle("/contact-channels/{channelId}", s.requireUser(s.handleChannelUpdate)).Methods("PATCH")
	api.Handle("/contact-channels/{channelId}", s.requireUser(s.handleChannelDelete)).Methods("DELETE")
	api.Handle("/contact-channels/{channelId}/send-verification-code", s.requireUser(s.handleChannelSendVerification)).Methods("POST")

	api.Handle("/users/me", s.requireUser(s.handleCurrentUser)).Methods("GET")
	api.Handle("/users/me", s.requireUser(s.handleCurrentUserDelete)).Methods("DELETE")
	api.Handle("/users", s.requireAccess(stackauth.AccessServer, s.handleServerCreateUser)).Methods("POST")
	api.Handle("/users/{userId}/sessions", s.requireAccess(stackauth.AccessServer, s.handleServerCreateSession)).Methods("POST")

	return r
}
