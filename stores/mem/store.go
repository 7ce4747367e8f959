// Package mem provides an in-memory Store for tests and local
// development. Transactions are copy-on-write snapshots swapped in on
// commit, which gives the same check-then-act atomicity the SQL
// adapters get from serialized transactions.
package mem

import (
	"context"
	"maps"
	"sync"
	"time"

	stackauth "github.com/yonasBSD/stack-sub000"
)

type tables struct {
	users    map[string]*stackauth.User
	channels map[string]*stackauth.ContactChannel
	links    map[string]*stackauth.OAuthProviderLink
	sessions map[string]*stackauth.Session
	codes    map[string]*stackauth.VerificationCode
	passkeys map[string]*stackauth.PasskeyCredential
	teams    map[string]*stackauth.Team
	members  map[string]map[string]bool
}

func newTables() *tables {
	return &tables{
		users:    map[string]*stackauth.User{},
		channels: map[string]*stackauth.ContactChannel{},
		links:    map[string]*stackauth.OAuthProviderLink{},
		sessions: map[string]*stackauth.Session{},
		codes:    map[string]*stackauth.VerificationCode{},
		passkeys: map[string]*stackauth.PasskeyCredential{},
		teams:    map[string]*stackauth.Team{},
		members:  map[string]map[string]bool{},
	}
}

func (t *tables) clone() *tables {
	out := &tables{
		users:    maps.Clone(t.users),
		channels: maps.Clone(t.channels),
		links:    maps.Clone(t.links),
		sessions: maps.Clone(t.sessions),
		codes:    maps.Clone(t.codes),
		passkeys: maps.Clone(t.passkeys),
		teams:    maps.Clone(t.teams),
		members:  make(map[string]map[string]bool, len(t.members)),
	}
	for k, set := range t.members {
		out.members[k] = maps.Clone(set)
	}
	return out
}

func key(projectID, id string) string { return projectID + "/" + id }

// Store is the in-memory Store implementation. Safe for concurrent
// use; every operation takes the store-wide mutex, and a transaction
// holds it for its whole duration.
type Store struct {
	mu sync.Mutex
	t  *tables
}

// New returns an empty store.
func New() *Store {
	return &Store{t: newTables()}
}

var _ stackauth.Store = (*Store)(nil)

func (s *Store) InTransaction(ctx context.Context, fn func(tx stackauth.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.t.clone()
	if err := fn(&txStore{t: snapshot}); err != nil {
		return err
	}
	s.t = snapshot
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *stackauth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createUser(u)
}

func (s *Store) GetUser(ctx context.Context, projectID, userID string) (*stackauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.getUser(projectID, userID)
}

func (s *Store) SaveUser(ctx context.Context, u *stackauth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.saveUser(u)
}

func (s *Store) DeleteUser(ctx context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.deleteUser(projectID, userID)
}

func (s *Store) CreateChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createChannel(ch)
}

func (s *Store) GetChannel(ctx context.Context, projectID, channelID string) (*stackauth.ContactChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.getChannel(projectID, channelID)
}

func (s *Store) FindAuthChannel(ctx context.Context, projectID string, t stackauth.ContactType, normalizedValue string) (*stackauth.ContactChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.findAuthChannel(projectID, t, normalizedValue)
}

func (s *Store) ListUserChannels(ctx context.Context, projectID, userID string) ([]*stackauth.ContactChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listUserChannels(projectID, userID)
}

func (s *Store) SaveChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.saveChannel(ch)
}

func (s *Store) DeleteChannel(ctx context.Context, projectID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.deleteChannel(projectID, channelID)
}

func (s *Store) CreateLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createLink(link)
}

func (s *Store) FindSignInLink(ctx context.Context, projectID, providerConfigID, accountID string) (*stackauth.OAuthProviderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.findSignInLink(projectID, providerConfigID, accountID)
}

func (s *Store) ListUserLinks(ctx context.Context, projectID, userID string) ([]*stackauth.OAuthProviderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listUserLinks(projectID, userID)
}

func (s *Store) SaveLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.saveLink(link)
}

func (s *Store) DeleteLink(ctx context.Context, projectID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.deleteLink(projectID, linkID)
}

func (s *Store) CreateSession(ctx context.Context, sess *stackauth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createSession(sess)
}

func (s *Store) GetSession(ctx context.Context, projectID, sessionID string) (*stackauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.getSession(projectID, sessionID)
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, projectID, tokenHash string) (*stackauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.getSessionByTokenHash(projectID, tokenHash)
}

func (s *Store) ListUserSessions(ctx context.Context, projectID, userID string) ([]*stackauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listUserSessions(projectID, userID)
}

func (s *Store) SaveSession(ctx context.Context, sess *stackauth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.saveSession(sess)
}

func (s *Store) CreateCode(ctx context.Context, code *stackauth.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createCode(code)
}

func (s *Store) ConsumeCode(ctx context.Context, projectID string, kind stackauth.VerificationCodeKind, codeHash string, now time.Time) (*stackauth.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.consumeCode(projectID, kind, codeHash, now)
}

func (s *Store) CreatePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createPasskey(cred)
}

func (s *Store) ListUserPasskeys(ctx context.Context, projectID, userID string) ([]*stackauth.PasskeyCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.listUserPasskeys(projectID, userID)
}

func (s *Store) FindPasskeyByUserHandle(ctx context.Context, projectID, userHandle string) (*stackauth.PasskeyCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.findPasskeyByUserHandle(projectID, userHandle)
}

func (s *Store) SavePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.savePasskey(cred)
}

func (s *Store) CreateTeam(ctx context.Context, team *stackauth.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.createTeam(team)
}

func (s *Store) GetTeam(ctx context.Context, projectID, teamID string) (*stackauth.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.getTeam(projectID, teamID)
}

func (s *Store) SaveTeam(ctx context.Context, team *stackauth.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.saveTeam(team)
}

func (s *Store) AddTeamMember(ctx context.Context, projectID, teamID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.addTeamMember(projectID, teamID, userID)
}

// txStore runs inside a held transaction: no locking, all writes land
// in the snapshot.
type txStore struct {
	t *tables
}

var _ stackauth.Store = (*txStore)(nil)

// InTransaction inside a transaction joins the enclosing one.
func (s *txStore) InTransaction(ctx context.Context, fn func(tx stackauth.Store) error) error {
	return fn(s)
}

func (s *txStore) CreateUser(ctx context.Context, u *stackauth.User) error {
	return s.t.createUser(u)
}

func (s *txStore) GetUser(ctx context.Context, projectID, userID string) (*stackauth.User, error) {
	return s.t.getUser(projectID, userID)
}

func (s *txStore) SaveUser(ctx context.Context, u *stackauth.User) error {
	return s.t.saveUser(u)
}

func (s *txStore) DeleteUser(ctx context.Context, projectID, userID string) error {
	return s.t.deleteUser(projectID, userID)
}

func (s *txStore) CreateChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	return s.t.createChannel(ch)
}

func (s *txStore) GetChannel(ctx context.Context, projectID, channelID string) (*stackauth.ContactChannel, error) {
	return s.t.getChannel(projectID, channelID)
}

func (s *txStore) FindAuthChannel(ctx context.Context, projectID string, t stackauth.ContactType, normalizedValue string) (*stackauth.ContactChannel, error) {
	return s.t.findAuthChannel(projectID, t, normalizedValue)
}

func (s *txStore) ListUserChannels(ctx context.Context, projectID, userID string) ([]*stackauth.ContactChannel, error) {
	return s.t.listUserChannels(projectID, userID)
}

func (s *txStore) SaveChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	return s.t.saveChannel(ch)
}

func (s *txStore) DeleteChannel(ctx context.Context, projectID, channelID string) error {
	return s.t.deleteChannel(projectID, channelID)
}

func (s *txStore) CreateLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	return s.t.createLink(link)
}

func (s *txStore) FindSignInLink(ctx context.Context, projectID, providerConfigID, accountID string) (*stackauth.OAuthProviderLink, error) {
	return s.t.findSignInLink(projectID, providerConfigID, accountID)
}

func (s *txStore) ListUserLinks(ctx context.Context, projectID, userID string) ([]*stackauth.OAuthProviderLink, error) {
	return s.t.listUserLinks(projectID, userID)
}

func (s *txStore) SaveLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	return s.t.saveLink(link)
}

func (s *txStore) DeleteLink(ctx context.Context, projectID, linkID string) error {
	return s.t.deleteLink(projectID, linkID)
}

func (s *txStore) CreateSession(ctx context.Context, sess *stackauth.Session) error {
	return s.t.createSession(sess)
}

func (s *txStore) GetSession(ctx context.Context, projectID, sessionID string) (*stackauth.Session, error) {
	return s.t.getSession(projectID, sessionID)
}

func (s *txStore) GetSessionByTokenHash(ctx context.Context, projectID, tokenHash string) (*stackauth.Session, error) {
	return s.t.getSessionByTokenHash(projectID, tokenHash)
}

func (s *txStore) ListUserSessions(ctx context.Context, projectID, userID string) ([]*stackauth.Session, error) {
	return s.t.listUserSessions(projectID, userID)
}

func (s *txStore) SaveSession(ctx context.Context, sess *stackauth.Session) error {
	return s.t.saveSession(sess)
}

func (s *txStore) CreateCode(ctx context.Context, code *stackauth.VerificationCode) error {
	return s.t.createCode(code)
}

func (s *txStore) ConsumeCode(ctx context.Context, projectID string, kind stackauth.VerificationCodeKind, codeHash string, now time.Time) (*stackauth.VerificationCode, error) {
	return s.t.consumeCode(projectID, kind, codeHash, now)
}

func (s *txStore) CreatePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	return s.t.createPasskey(cred)
}

func (s *txStore) ListUserPasskeys(ctx context.Context, projectID, userID string) ([]*stackauth.PasskeyCredential, error) {
	return s.t.listUserPasskeys(projectID, userID)
}

func (s *txStore) FindPasskeyByUserHandle(ctx context.Context, projectID, userHandle string) (*stackauth.PasskeyCredential, error) {
	return s.t.findPasskeyByUserHandle(projectID, userHandle)
}

func (s *txStore) SavePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	return s.t.savePasskey(cred)
}

func (s *txStore) CreateTeam(ctx context.Context, team *stackauth.Team) error {
	return s.t.createTeam(team)
}

func (s *txStore) GetTeam(ctx context.Context, projectID, teamID string) (*stackauth.Team, error) {
	return s.t.getTeam(projectID, teamID)
}

func (s *txStore) SaveTeam(ctx context.Context, team *stackauth.Team) error {
	return s.t.saveTeam(team)
}

func (s *txStore) AddTeamMember(ctx context.Context, projectID, teamID, userID string) error {
	return s.t.addTeamMember(projectID, teamID, userID)
}
