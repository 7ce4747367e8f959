package mem

import (
	"maps"
	"time"

	stackauth "github.com/yonasBSD/stack-sub000"
)

// Entries in the tables are treated as immutable: reads hand out
// copies and writes store copies, so callers can mutate fetched
// entities freely before saving.

func copyUser(u *stackauth.User) *stackauth.User {
	out := *u
	out.ClientMetadata = maps.Clone(u.ClientMetadata)
	out.ClientReadOnlyMeta = maps.Clone(u.ClientReadOnlyMeta)
	out.ServerMetadata = maps.Clone(u.ServerMetadata)
	return &out
}

func copyChannel(ch *stackauth.ContactChannel) *stackauth.ContactChannel {
	out := *ch
	return &out
}

func copyLink(l *stackauth.OAuthProviderLink) *stackauth.OAuthProviderLink {
	out := *l
	return &out
}

func copySession(s *stackauth.Session) *stackauth.Session {
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	if s.RevokedAt != nil {
		rev := *s.RevokedAt
		out.RevokedAt = &rev
	}
	return &out
}

func copyCode(c *stackauth.VerificationCode) *stackauth.VerificationCode {
	out := *c
	out.Payload = append([]byte(nil), c.Payload...)
	if c.UsedAt != nil {
		used := *c.UsedAt
		out.UsedAt = &used
	}
	return &out
}

func copyPasskey(p *stackauth.PasskeyCredential) *stackauth.PasskeyCredential {
	out := *p
	out.Credential = append([]byte(nil), p.Credential...)
	return &out
}

func copyTeam(t *stackauth.Team) *stackauth.Team {
	out := *t
	return &out
}

func (t *tables) createUser(u *stackauth.User) error {
	t.users[key(u.ProjectID, u.ID)] = copyUser(u)
	return nil
}

func (t *tables) getUser(projectID, userID string) (*stackauth.User, error) {
	u, ok := t.users[key(projectID, userID)]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (t *tables) saveUser(u *stackauth.User) error {
	t.users[key(u.ProjectID, u.ID)] = copyUser(u)
	return nil
}

// deleteUser cascades over everything the user owns; a leftover
// used-for-auth channel would claim the address forever.
func (t *tables) deleteUser(projectID, userID string) error {
	delete(t.users, key(projectID, userID))
	for k, ch := range t.channels {
		if ch.ProjectID == projectID && ch.UserID == userID {
			delete(t.channels, k)
		}
	}
	for k, l := range t.links {
		if l.ProjectID == projectID && l.UserID == userID {
			delete(t.links, k)
		}
	}
	for k, s := range t.sessions {
		if s.ProjectID == projectID && s.UserID == userID {
			delete(t.sessions, k)
		}
	}
	for k, p := range t.passkeys {
		if p.ProjectID == projectID && p.UserID == userID {
			delete(t.passkeys, k)
		}
	}
	return nil
}

func (t *tables) createChannel(ch *stackauth.ContactChannel) error {
	t.channels[key(ch.ProjectID, ch.ID)] = copyChannel(ch)
	return nil
}

func (t *tables) getChannel(projectID, channelID string) (*stackauth.ContactChannel, error) {
	ch, ok := t.channels[key(projectID, channelID)]
	if !ok {
		return nil, nil
	}
	return copyChannel(ch), nil
}

func (t *tables) findAuthChannel(projectID string, ct stackauth.ContactType, normalizedValue string) (*stackauth.ContactChannel, error) {
	for _, ch := range t.channels {
		if ch.ProjectID == projectID && ch.Type == ct &&
			ch.NormalizedValue == normalizedValue && ch.UsedForAuth {
			return copyChannel(ch), nil
		}
	}
	return nil, nil
}

func (t *tables) listUserChannels(projectID, userID string) ([]*stackauth.ContactChannel, error) {
	var out []*stackauth.ContactChannel
	for _, ch := range t.channels {
		if ch.ProjectID == projectID && ch.UserID == userID {
			out = append(out, copyChannel(ch))
		}
	}
	return out, nil
}

func (t *tables) saveChannel(ch *stackauth.ContactChannel) error {
	t.channels[key(ch.ProjectID, ch.ID)] = copyChannel(ch)
	return nil
}

func (t *tables) deleteChannel(projectID, channelID string) error {
	delete(t.channels, key(projectID, channelID))
	return nil
}

func (t *tables) createLink(l *stackauth.OAuthProviderLink) error {
	t.links[key(l.ProjectID, l.ID)] = copyLink(l)
	return nil
}

func (t *tables) findSignInLink(projectID, providerConfigID, accountID string) (*stackauth.OAuthProviderLink, error) {
	for _, l := range t.links {
		if l.ProjectID == projectID && l.ProviderConfigID == providerConfigID &&
			l.AccountID == accountID && l.AllowSignIn {
			return copyLink(l), nil
		}
	}
	return nil, nil
}

func (t *tables) listUserLinks(projectID, userID string) ([]*stackauth.OAuthProviderLink, error) {
	var out []*stackauth.OAuthProviderLink
	for _, l := range t.links {
		if l.ProjectID == projectID && l.UserID == userID {
			out = append(out, copyLink(l))
		}
	}
	return out, nil
}

func (t *tables) saveLink(l *stackauth.OAuthProviderLink) error {
	t.links[key(l.ProjectID, l.ID)] = copyLink(l)
	return nil
}

func (t *tables) deleteLink(projectID, linkID string) error {
	delete(t.links, key(projectID, linkID))
	return nil
}

func (t *tables) createSession(s *stackauth.Session) error {
	t.sessions[key(s.ProjectID, s.ID)] = copySession(s)
	return nil
}

func (t *tables) getSession(projectID, sessionID string) (*stackauth.Session, error) {
	s, ok := t.sessions[key(projectID, sessionID)]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (t *tables) getSessionByTokenHash(projectID, tokenHash string) (*stackauth.Session, error) {
	for _, s := range t.sessions {
		if s.ProjectID == projectID && s.RefreshTokenHash == tokenHash {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (t *tables) listUserSessions(projectID, userID string) ([]*stackauth.Session, error) {
	var out []*stackauth.Session
	for _, s := range t.sessions {
		if s.ProjectID == projectID && s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (t *tables) saveSession(s *stackauth.Session) error {
	t.sessions[key(s.ProjectID, s.ID)] = copySession(s)
	return nil
}

func codeKey(projectID string, kind stackauth.VerificationCodeKind, codeHash string) string {
	return projectID + "/" + string(kind) + "/" + codeHash
}

func (t *tables) createCode(c *stackauth.VerificationCode) error {
	t.codes[codeKey(c.ProjectID, c.Kind, c.CodeHash)] = copyCode(c)
	return nil
}

func (t *tables) consumeCode(projectID string, kind stackauth.VerificationCodeKind, codeHash string, now time.Time) (*stackauth.VerificationCode, error) {
	k := codeKey(projectID, kind, codeHash)
	c, ok := t.codes[k]
	if !ok {
		return nil, stackauth.ErrVerificationCodeNotFound
	}
	if c.UsedAt != nil {
		return nil, stackauth.ErrVerificationCodeAlreadyUsed
	}
	if now.After(c.ExpiresAt) {
		return nil, stackauth.ErrVerificationCodeExpired
	}
	used := copyCode(c)
	used.UsedAt = &now
	t.codes[k] = used
	return copyCode(used), nil
}

func (t *tables) createPasskey(p *stackauth.PasskeyCredential) error {
	t.passkeys[key(p.ProjectID, p.ID)] = copyPasskey(p)
	return nil
}

func (t *tables) listUserPasskeys(projectID, userID string) ([]*stackauth.PasskeyCredential, error) {
	var out []*stackauth.PasskeyCredential
	for _, p := range t.passkeys {
		if p.ProjectID == projectID && p.UserID == userID {
			out = append(out, copyPasskey(p))
		}
	}
	return out, nil
}

func (t *tables) findPasskeyByUserHandle(projectID, userHandle string) (*stackauth.PasskeyCredential, error) {
	for _, p := range t.passkeys {
		if p.ProjectID == projectID && p.UserHandle == userHandle {
			return copyPasskey(p), nil
		}
	}
	return nil, nil
}

func (t *tables) savePasskey(p *stackauth.PasskeyCredential) error {
	t.passkeys[key(p.ProjectID, p.ID)] = copyPasskey(p)
	return nil
}

func (t *tables) createTeam(team *stackauth.Team) error {
	t.teams[key(team.ProjectID, team.ID)] = copyTeam(team)
	return nil
}

func (t *tables) getTeam(projectID, teamID string) (*stackauth.Team, error) {
	team, ok := t.teams[key(projectID, teamID)]
	if !ok {
		return nil, nil
	}
	return copyTeam(team), nil
}

func (t *tables) saveTeam(team *stackauth.Team) error {
	t.teams[key(team.ProjectID, team.ID)] = copyTeam(team)
	return nil
}

func (t *tables) addTeamMember(projectID, teamID, userID string) error {
	k := key(projectID, teamID)
	set, ok := t.members[k]
	if !ok {
		set = map[string]bool{}
		t.members[k] = set
	}
	if set[userID] {
		return stackauth.ErrTeamMembershipAlreadyExists
	}
	set[userID] = true
	return nil
}
