// Package gae persists the auth core in Google Cloud Datastore.
// Entities carry their full record as a JSON blob plus the few fields
// queries filter on; value-keyed index entities stand in for the
// unique constraints a relational schema would declare.
package gae

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	stackauth "github.com/yonasBSD/stack-sub000"
)

const (
	kindUser    = "AuthUser"
	kindChannel = "AuthContactChannel"
	kindLink    = "AuthProviderLink"
	kindSession = "AuthSession"
	kindCode    = "AuthVerificationCode"
	kindPasskey = "AuthPasskey"
	kindTeam    = "AuthTeam"
	kindMember  = "AuthTeamMember"

	kindChannelIndex = "AuthChannelIndex"
	kindLinkIndex    = "AuthLinkIndex"
	kindTokenIndex   = "AuthTokenIndex"
	kindHandleIndex  = "AuthHandleIndex"
)

// entity is the generic storage shape: indexed filter fields plus the
// record itself as an opaque blob.
type entity struct {
	ProjectID string
	UserID    string
	Data      []byte `datastore:",noindex"`
}

// ref is a value-keyed pointer to a primary entity.
type ref struct {
	Target string `datastore:",noindex"`
}

func nameKey(kind, projectID, id string) *datastore.Key {
	return datastore.NameKey(kind, projectID+"/"+id, nil)
}

// runner abstracts plain-client and in-transaction access.
type runner interface {
	get(ctx context.Context, key *datastore.Key, dst any) error
	put(ctx context.Context, key *datastore.Key, src any) error
	del(ctx context.Context, key *datastore.Key) error
}

type clientRunner struct{ c *datastore.Client }

func (r clientRunner) get(ctx context.Context, key *datastore.Key, dst any) error {
	return r.c.Get(ctx, key, dst)
}
func (r clientRunner) put(ctx context.Context, key *datastore.Key, src any) error {
	_, err := r.c.Put(ctx, key, src)
	return err
}
func (r clientRunner) del(ctx context.Context, key *datastore.Key) error {
	return r.c.Delete(ctx, key)
}

type txRunner struct{ tx *datastore.Transaction }

func (r txRunner) get(_ context.Context, key *datastore.Key, dst any) error {
	return r.tx.Get(key, dst)
}
func (r txRunner) put(_ context.Context, key *datastore.Key, src any) error {
	_, err := r.tx.Put(key, src)
	return err
}
func (r txRunner) del(_ context.Context, key *datastore.Key) error {
	return r.tx.Delete(key)
}

// Store is the Datastore-backed Store implementation.
type Store struct {
	client *datastore.Client
	r      runner
	inTx   bool
}

var _ stackauth.Store = (*Store)(nil)

// New wraps a connected Datastore client.
func New(client *datastore.Client) *Store {
	return &Store{client: client, r: clientRunner{client}}
}

// InTransaction runs fn inside a Datastore transaction. Key lookups
// and writes are transactional; list queries read committed state,
// which the core's check-then-act paths avoid by keying their checks
// on the index entities.
func (s *Store) InTransaction(ctx context.Context, fn func(tx stackauth.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return fn(&Store{client: s.client, r: txRunner{tx}, inTx: true})
	})
	return err
}

func (s *Store) putJSON(ctx context.Context, kind, projectID, id, userID string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.r.put(ctx, nameKey(kind, projectID, id), &entity{
		ProjectID: projectID,
		UserID:    userID,
		Data:      data,
	})
}

func (s *Store) getJSON(ctx context.Context, kind, projectID, id string, into any) (bool, error) {
	var e entity
	err := s.r.get(ctx, nameKey(kind, projectID, id), &e)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(e.Data, into)
}

func (s *Store) lookupRef(ctx context.Context, kind, projectID, value string) (string, error) {
	var r ref
	err := s.r.get(ctx, nameKey(kind, projectID, value), &r)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return r.Target, nil
}

func (s *Store) listByUser(ctx context.Context, kind, projectID, userID string, each func(data []byte) error) error {
	q := datastore.NewQuery(kind).
		FilterField("ProjectID", "=", projectID).
		FilterField("UserID", "=", userID)
	it := s.client.Run(ctx, q)
	for {
		var e entity
		if _, err := it.Next(&e); err != nil {
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}
		if err := each(e.Data); err != nil {
			return err
		}
	}
}

func (s *Store) CreateUser(ctx context.Context, u *stackauth.User) error {
	return s.putJSON(ctx, kindUser, u.ProjectID, u.ID, u.ID, newUserRecord(u))
}

func (s *Store) GetUser(ctx context.Context, projectID, userID string) (*stackauth.User, error) {
	var rec userRecord
	ok, err := s.getJSON(ctx, kindUser, projectID, userID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.domain(), nil
}

func (s *Store) SaveUser(ctx context.Context, u *stackauth.User) error {
	return s.putJSON(ctx, kindUser, u.ProjectID, u.ID, u.ID, newUserRecord(u))
}

// DeleteUser removes the user and everything it owns, index entities
// included; a surviving auth-channel index would claim the address
// forever.
func (s *Store) DeleteUser(ctx context.Context, projectID, userID string) error {
	channels, err := s.ListUserChannels(ctx, projectID, userID)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := s.DeleteChannel(ctx, projectID, ch.ID); err != nil {
			return err
		}
	}
	links, err := s.ListUserLinks(ctx, projectID, userID)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := s.DeleteLink(ctx, projectID, link.ID); err != nil {
			return err
		}
	}
	sessions, err := s.ListUserSessions(ctx, projectID, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.r.del(ctx, nameKey(kindSession, projectID, sess.ID)); err != nil {
			return err
		}
		if err := s.r.del(ctx, nameKey(kindTokenIndex, projectID, sess.RefreshTokenHash)); err != nil {
			return err
		}
	}
	passkeys, err := s.ListUserPasskeys(ctx, projectID, userID)
	if err != nil {
		return err
	}
	for _, cred := range passkeys {
		if err := s.r.del(ctx, nameKey(kindPasskey, projectID, cred.ID)); err != nil {
			return err
		}
		if err := s.r.del(ctx, nameKey(kindHandleIndex, projectID, cred.UserHandle)); err != nil {
			return err
		}
	}
	return s.r.del(ctx, nameKey(kindUser, projectID, userID))
}

func (s *Store) CreateChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	if err := s.putJSON(ctx, kindChannel, ch.ProjectID, ch.ID, ch.UserID, newChannelRecord(ch)); err != nil {
		return err
	}
	return s.syncChannelIndex(ctx, ch)
}

func channelIndexValue(t stackauth.ContactType, normalizedValue string) string {
	return string(t) + "/" + normalizedValue
}

// syncChannelIndex keeps the auth-channel index entity in step with
// the channel's UsedForAuth flag.
func (s *Store) syncChannelIndex(ctx context.Context, ch *stackauth.ContactChannel) error {
	key := nameKey(kindChannelIndex, ch.ProjectID, channelIndexValue(ch.Type, ch.NormalizedValue))
	if ch.UsedForAuth {
		return s.r.put(ctx, key, &ref{Target: ch.ID})
	}
	target, err := s.lookupRef(ctx, kindChannelIndex, ch.ProjectID, channelIndexValue(ch.Type, ch.NormalizedValue))
	if err != nil {
		return err
	}
	if target == ch.ID {
		return s.r.del(ctx, key)
	}
	return nil
}

func (s *Store) GetChannel(ctx context.Context, projectID, channelID string) (*stackauth.ContactChannel, error) {
	var rec channelRecord
	ok, err := s.getJSON(ctx, kindChannel, projectID, channelID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.domain(), nil
}

func (s *Store) FindAuthChannel(ctx context.Context, projectID string, t stackauth.ContactType, normalizedValue string) (*stackauth.ContactChannel, error) {
	target, err := s.lookupRef(ctx, kindChannelIndex, projectID, channelIndexValue(t, normalizedValue))
	if err != nil || target == "" {
		return nil, err
	}
	ch, err := s.GetChannel(ctx, projectID, target)
	if err != nil || ch == nil {
		return nil, err
	}
	if !ch.UsedForAuth {
		return nil, nil
	}
	return ch, nil
}

func (s *Store) ListUserChannels(ctx context.Context, projectID, userID string) ([]*stackauth.ContactChannel, error) {
	var out []*stackauth.ContactChannel
	err := s.listByUser(ctx, kindChannel, projectID, userID, func(data []byte) error {
		var rec channelRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, rec.domain())
		return nil
	})
	return out, err
}

func (s *Store) SaveChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	if err := s.putJSON(ctx, kindChannel, ch.ProjectID, ch.ID, ch.UserID, newChannelRecord(ch)); err != nil {
		return err
	}
	return s.syncChannelIndex(ctx, ch)
}

func (s *Store) DeleteChannel(ctx context.Context, projectID, channelID string) error {
	ch, err := s.GetChannel(ctx, projectID, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return nil
	}
	if err := s.r.del(ctx, nameKey(kindChannel, projectID, channelID)); err != nil {
		return err
	}
	ch.UsedForAuth = false
	return s.syncChannelIndex(ctx, ch)
}

func linkIndexValue(providerConfigID, accountID string) string {
	return providerConfigID + "/" + accountID
}

func (s *Store) CreateLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	if err := s.putJSON(ctx, kindLink, link.ProjectID, link.ID, link.UserID, link); err != nil {
		return err
	}
	if link.AllowSignIn {
		return s.r.put(ctx, nameKey(kindLinkIndex, link.ProjectID, linkIndexValue(link.ProviderConfigID, link.AccountID)), &ref{Target: link.ID})
	}
	return nil
}

func (s *Store) FindSignInLink(ctx context.Context, projectID, providerConfigID, accountID string) (*stackauth.OAuthProviderLink, error) {
	target, err := s.lookupRef(ctx, kindLinkIndex, projectID, linkIndexValue(providerConfigID, accountID))
	if err != nil || target == "" {
		return nil, err
	}
	var link stackauth.OAuthProviderLink
	ok, err := s.getJSON(ctx, kindLink, projectID, target, &link)
	if err != nil || !ok {
		return nil, err
	}
	if !link.AllowSignIn {
		return nil, nil
	}
	return &link, nil
}

func (s *Store) ListUserLinks(ctx context.Context, projectID, userID string) ([]*stackauth.OAuthProviderLink, error) {
	var out []*stackauth.OAuthProviderLink
	err := s.listByUser(ctx, kindLink, projectID, userID, func(data []byte) error {
		var link stackauth.OAuthProviderLink
		if err := json.Unmarshal(data, &link); err != nil {
			return err
		}
		out = append(out, &link)
		return nil
	})
	return out, err
}

func (s *Store) SaveLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	return s.CreateLink(ctx, link)
}

func (s *Store) DeleteLink(ctx context.Context, projectID, linkID string) error {
	var link stackauth.OAuthProviderLink
	ok, err := s.getJSON(ctx, kindLink, projectID, linkID, &link)
	if err != nil || !ok {
		return err
	}
	if err := s.r.del(ctx, nameKey(kindLink, projectID, linkID)); err != nil {
		return err
	}
	if link.AllowSignIn {
		return s.r.del(ctx, nameKey(kindLinkIndex, projectID, linkIndexValue(link.ProviderConfigID, link.AccountID)))
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *stackauth.Session) error {
	if err := s.putJSON(ctx, kindSession, sess.ProjectID, sess.ID, sess.UserID, newSessionRecord(sess)); err != nil {
		return err
	}
	return s.r.put(ctx, nameKey(kindTokenIndex, sess.ProjectID, sess.RefreshTokenHash), &ref{Target: sess.ID})
}

func (s *Store) GetSession(ctx context.Context, projectID, sessionID string) (*stackauth.Session, error) {
	var rec sessionRecord
	ok, err := s.getJSON(ctx, kindSession, projectID, sessionID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.domain(), nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, projectID, tokenHash string) (*stackauth.Session, error) {
	target, err := s.lookupRef(ctx, kindTokenIndex, projectID, tokenHash)
	if err != nil || target == "" {
		return nil, err
	}
	return s.GetSession(ctx, projectID, target)
}

func (s *Store) ListUserSessions(ctx context.Context, projectID, userID string) ([]*stackauth.Session, error) {
	var out []*stackauth.Session
	err := s.listByUser(ctx, kindSession, projectID, userID, func(data []byte) error {
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, rec.domain())
		return nil
	})
	return out, err
}

func (s *Store) SaveSession(ctx context.Context, sess *stackauth.Session) error {
	return s.putJSON(ctx, kindSession, sess.ProjectID, sess.ID, sess.UserID, newSessionRecord(sess))
}

func codeID(kind stackauth.VerificationCodeKind, codeHash string) string {
	return string(kind) + "/" + codeHash
}

func (s *Store) CreateCode(ctx context.Context, code *stackauth.VerificationCode) error {
	return s.putJSON(ctx, kindCode, code.ProjectID, codeID(code.Kind, code.CodeHash), "", newCodeRecord(code))
}

// ConsumeCode claims the code inside its own transaction when not
// already in one, so a code is redeemable at most once.
func (s *Store) ConsumeCode(ctx context.Context, projectID string, kind stackauth.VerificationCodeKind, codeHash string, now time.Time) (*stackauth.VerificationCode, error) {
	var out *stackauth.VerificationCode
	err := s.InTransaction(ctx, func(txs stackauth.Store) error {
		tx := txs.(*Store)
		var rec codeRecord
		ok, err := tx.getJSON(ctx, kindCode, projectID, codeID(kind, codeHash), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return stackauth.ErrVerificationCodeNotFound
		}
		code := rec.domain()
		if code.UsedAt != nil {
			return stackauth.ErrVerificationCodeAlreadyUsed
		}
		if now.After(code.ExpiresAt) {
			return stackauth.ErrVerificationCodeExpired
		}
		code.UsedAt = &now
		if err := tx.putJSON(ctx, kindCode, projectID, codeID(kind, codeHash), "", newCodeRecord(code)); err != nil {
			return err
		}
		out = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreatePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	if err := s.putJSON(ctx, kindPasskey, cred.ProjectID, cred.ID, cred.UserID, newPasskeyRecord(cred)); err != nil {
		return err
	}
	return s.r.put(ctx, nameKey(kindHandleIndex, cred.ProjectID, cred.UserHandle), &ref{Target: cred.ID})
}

func (s *Store) ListUserPasskeys(ctx context.Context, projectID, userID string) ([]*stackauth.PasskeyCredential, error) {
	var out []*stackauth.PasskeyCredential
	err := s.listByUser(ctx, kindPasskey, projectID, userID, func(data []byte) error {
		var rec passkeyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, rec.domain())
		return nil
	})
	return out, err
}

func (s *Store) FindPasskeyByUserHandle(ctx context.Context, projectID, userHandle string) (*stackauth.PasskeyCredential, error) {
	target, err := s.lookupRef(ctx, kindHandleIndex, projectID, userHandle)
	if err != nil || target == "" {
		return nil, err
	}
	var rec passkeyRecord
	ok, err := s.getJSON(ctx, kindPasskey, projectID, target, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.domain(), nil
}

func (s *Store) SavePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	return s.putJSON(ctx, kindPasskey, cred.ProjectID, cred.ID, cred.UserID, newPasskeyRecord(cred))
}

func (s *Store) CreateTeam(ctx context.Context, team *stackauth.Team) error {
	return s.putJSON(ctx, kindTeam, team.ProjectID, team.ID, "", team)
}

func (s *Store) GetTeam(ctx context.Context, projectID, teamID string) (*stackauth.Team, error) {
	var team stackauth.Team
	ok, err := s.getJSON(ctx, kindTeam, projectID, teamID, &team)
	if err != nil || !ok {
		return nil, err
	}
	return &team, nil
}

func (s *Store) SaveTeam(ctx context.Context, team *stackauth.Team) error {
	return s.putJSON(ctx, kindTeam, team.ProjectID, team.ID, "", team)
}

func (s *Store) AddTeamMember(ctx context.Context, projectID, teamID, userID string) error {
	key := nameKey(kindMember, projectID, teamID+"/"+userID)
	var existing ref
	err := s.r.get(ctx, key, &existing)
	if err == nil {
		return stackauth.ErrTeamMembershipAlreadyExists
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	return s.r.put(ctx, key, &ref{Target: userID})
}
