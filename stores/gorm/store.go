package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	stackauth "github.com/yonasBSD/stack-sub000"
)

// Store is the relational Store implementation.
type Store struct {
	db *gorm.DB
}

var _ stackauth.Store = (*Store)(nil)

// New wraps an existing gorm handle. The caller is responsible for
// migrations when using this constructor.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects and migrates the schema. Postgres DSNs are recognized
// by their prefix; anything else is treated as a SQLite path.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&userModel{}, &channelModel{}, &linkModel{}, &sessionModel{},
		&codeModel{}, &passkeyModel{}, &teamModel{}, &memberModel{},
	); err != nil {
		return nil, err
	}
	// At most one used-for-auth channel may claim a (project, type,
	// value) triple. AutoMigrate tags cannot express a partial index,
	// so the claim constraint is raw SQL; the predicate form works on
	// both SQLite and Postgres.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_channel_claim " +
			"ON auth_contact_channels (project_id, type, normalized_value) " +
			"WHERE used_for_auth",
	).Error; err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

const txAttempts = 3

// InTransaction wraps fn in a database transaction. The resolver's
// check-then-act sequences ride on this; the unique indexes on
// channels and codes are the backstop against raced duplicates.
// Serialization and deadlock failures are retried a bounded number of
// times, so fn must be safe to re-run.
func (s *Store) InTransaction(ctx context.Context, fn func(tx stackauth.Store) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Store{db: tx})
		})
		if !retryableTxError(err) {
			return err
		}
	}
	return err
}

// retryableTxError matches conflicts a re-run can resolve. Typed
// business errors pass through untouched. Unique violations retry
// because the loser of a raced insert observes the committed row on
// the next attempt and gets the typed conflict error instead.
func retryableTxError(err error) bool {
	if err == nil {
		return false
	}
	var known *stackauth.KnownError
	if errors.As(err, &known) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "database is locked")
}

func (s *Store) CreateUser(ctx context.Context, u *stackauth.User) error {
	return s.db.WithContext(ctx).Create(toUserModel(u)).Error
}

func (s *Store) GetUser(ctx context.Context, projectID, userID string) (*stackauth.User, error) {
	var m userModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) SaveUser(ctx context.Context, u *stackauth.User) error {
	return s.db.WithContext(ctx).Save(toUserModel(u)).Error
}

// DeleteUser removes the user and everything it owns in one
// transaction; a surviving used-for-auth channel would claim the
// address forever.
func (s *Store) DeleteUser(ctx context.Context, projectID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned := []any{&channelModel{}, &linkModel{}, &sessionModel{}, &passkeyModel{}}
		for _, model := range owned {
			if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).
				Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("project_id = ? AND id = ?", projectID, userID).
			Delete(&userModel{}).Error
	})
}

func (s *Store) CreateChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	return s.db.WithContext(ctx).Create(toChannelModel(ch)).Error
}

func (s *Store) GetChannel(ctx context.Context, projectID, channelID string) (*stackauth.ContactChannel, error) {
	var m channelModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, channelID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) FindAuthChannel(ctx context.Context, projectID string, t stackauth.ContactType, normalizedValue string) (*stackauth.ContactChannel, error) {
	var m channelModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND type = ? AND normalized_value = ? AND used_for_auth = ?",
			projectID, string(t), normalizedValue, true).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) ListUserChannels(ctx context.Context, projectID, userID string) ([]*stackauth.ContactChannel, error) {
	var ms []channelModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("created_at").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*stackauth.ContactChannel, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].domain())
	}
	return out, nil
}

func (s *Store) SaveChannel(ctx context.Context, ch *stackauth.ContactChannel) error {
	return s.db.WithContext(ctx).Save(toChannelModel(ch)).Error
}

func (s *Store) DeleteChannel(ctx context.Context, projectID, channelID string) error {
	return s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, channelID).
		Delete(&channelModel{}).Error
}

func (s *Store) CreateLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	return s.db.WithContext(ctx).Create(toLinkModel(link)).Error
}

func (s *Store) FindSignInLink(ctx context.Context, projectID, providerConfigID, accountID string) (*stackauth.OAuthProviderLink, error) {
	var m linkModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND provider_config_id = ? AND account_id = ? AND allow_sign_in = ?",
			projectID, providerConfigID, accountID, true).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) ListUserLinks(ctx context.Context, projectID, userID string) ([]*stackauth.OAuthProviderLink, error) {
	var ms []linkModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*stackauth.OAuthProviderLink, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].domain())
	}
	return out, nil
}

func (s *Store) SaveLink(ctx context.Context, link *stackauth.OAuthProviderLink) error {
	return s.db.WithContext(ctx).Save(toLinkModel(link)).Error
}

func (s *Store) DeleteLink(ctx context.Context, projectID, linkID string) error {
	return s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, linkID).
		Delete(&linkModel{}).Error
}

func (s *Store) CreateSession(ctx context.Context, sess *stackauth.Session) error {
	return s.db.WithContext(ctx).Create(toSessionModel(sess)).Error
}

func (s *Store) GetSession(ctx context.Context, projectID, sessionID string) (*stackauth.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, sessionID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, projectID, tokenHash string) (*stackauth.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND refresh_token_hash = ?", projectID, tokenHash).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) ListUserSessions(ctx context.Context, projectID, userID string) ([]*stackauth.Session, error) {
	var ms []sessionModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Order("created_at").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*stackauth.Session, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].domain())
	}
	return out, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *stackauth.Session) error {
	return s.db.WithContext(ctx).Save(toSessionModel(sess)).Error
}

func (s *Store) CreateCode(ctx context.Context, code *stackauth.VerificationCode) error {
	return s.db.WithContext(ctx).Create(toCodeModel(code)).Error
}

// ConsumeCode claims the code with a conditional update. The WHERE
// clause on used_at makes concurrent redeems race on the row: exactly
// one update reports RowsAffected=1, the rest observe the code as
// already used.
func (s *Store) ConsumeCode(ctx context.Context, projectID string, kind stackauth.VerificationCodeKind, codeHash string, now time.Time) (*stackauth.VerificationCode, error) {
	var m codeModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND kind = ? AND code_hash = ?", projectID, string(kind), codeHash).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, stackauth.ErrVerificationCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.UsedAt != nil {
		return nil, stackauth.ErrVerificationCodeAlreadyUsed
	}
	if now.After(m.ExpiresAt) {
		return nil, stackauth.ErrVerificationCodeExpired
	}
	res := s.db.WithContext(ctx).Model(&codeModel{}).
		Where("project_id = ? AND id = ? AND used_at IS NULL", projectID, m.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, stackauth.ErrVerificationCodeAlreadyUsed
	}
	m.UsedAt = &now
	return m.domain(), nil
}

func (s *Store) CreatePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	return s.db.WithContext(ctx).Create(toPasskeyModel(cred)).Error
}

func (s *Store) ListUserPasskeys(ctx context.Context, projectID, userID string) ([]*stackauth.PasskeyCredential, error) {
	var ms []passkeyModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*stackauth.PasskeyCredential, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].domain())
	}
	return out, nil
}

func (s *Store) FindPasskeyByUserHandle(ctx context.Context, projectID, userHandle string) (*stackauth.PasskeyCredential, error) {
	var m passkeyModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_handle = ?", projectID, userHandle).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) SavePasskey(ctx context.Context, cred *stackauth.PasskeyCredential) error {
	return s.db.WithContext(ctx).Save(toPasskeyModel(cred)).Error
}

func (s *Store) CreateTeam(ctx context.Context, team *stackauth.Team) error {
	return s.db.WithContext(ctx).Create(toTeamModel(team)).Error
}

func (s *Store) GetTeam(ctx context.Context, projectID, teamID string) (*stackauth.Team, error) {
	var m teamModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, teamID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.domain(), nil
}

func (s *Store) SaveTeam(ctx context.Context, team *stackauth.Team) error {
	return s.db.WithContext(ctx).Save(toTeamModel(team)).Error
}

func (s *Store) AddTeamMember(ctx context.Context, projectID, teamID, userID string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&memberModel{}).
		Where("project_id = ? AND team_id = ? AND user_id = ?", projectID, teamID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return stackauth.ErrTeamMembershipAlreadyExists
	}
	return s.db.WithContext(ctx).Create(&memberModel{
		ProjectID: projectID,
		TeamID:    teamID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}).Error
}
