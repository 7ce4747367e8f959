package stackauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how an authentication event was bound to a user.
type Outcome string

const (
	// OutcomeSignedIn means the event resolved to an existing user.
	OutcomeSignedIn Outcome = "signed_in"
	// OutcomeCreated means a brand-new user was created.
	OutcomeCreated Outcome = "created"
	// OutcomeUpgraded means the caller's anonymous user was upgraded
	// in place; the user id is unchanged.
	OutcomeUpgraded Outcome = "upgraded"
	// OutcomeLinked means the new auth method was attached onto an
	// existing verified channel's owner (link_method merge).
	OutcomeLinked Outcome = "linked"
)

// Resolution is the result of binding an AuthenticationEvent to a user.
type Resolution struct {
	User    *User
	Outcome Outcome
}

// Resolver is the identity state machine: given a verified
// authentication event and the caller's current identity it decides
// between sign-in, create, anonymous upgrade and merge, applying the
// project's account-linking policy. All writes for one event happen in
// a single transaction.
type Resolver struct {
	Store    Store
	Webhooks WebhookEmitter
	Logger   *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// WithStore returns a copy of the resolver bound to tx, so resolution
// can be composed with other writes in one transaction.
func (r *Resolver) WithStore(tx Store) *Resolver {
	bound := *r
	bound.Store = tx
	return &bound
}

func (r *Resolver) webhooks() WebhookEmitter {
	if r.Webhooks != nil {
		return r.Webhooks
	}
	return NopWebhooks{}
}

type pendingEvent struct {
	eventType string
	payload   map[string]any
}

// Resolve binds the event to a user. Typed policy and conflict errors
// surface verbatim; storage failures are wrapped and generic.
func (r *Resolver) Resolve(ctx context.Context, rc RequestContext, ev AuthenticationEvent) (*Resolution, error) {
	if !rc.Policy.MethodEnabled(ev.Method) {
		if ev.Method == MethodAnonymous {
			return nil, ErrAnonymousAccountsNotEnabled
		}
		return nil, NewAuthMethodDisabledError(ev.Method)
	}

	var (
		resolution *Resolution
		events     []pendingEvent
	)
	err := r.Store.InTransaction(ctx, func(tx Store) error {
		events = events[:0]
		res, pending, err := r.resolveTx(ctx, tx, rc, ev)
		if err != nil {
			return err
		}
		resolution = res
		events = pending
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Webhooks fire after commit, off the critical path.
	for _, e := range events {
		r.webhooks().Emit(ctx, e.eventType, e.payload)
	}
	r.logger().InfoContext(ctx, "authentication resolved",
		"project", rc.ProjectID, "method", ev.Method,
		"outcome", resolution.Outcome, "user", resolution.User.ID)
	return resolution, nil
}

func (r *Resolver) resolveTx(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent) (*Resolution, []pendingEvent, error) {
	now := r.now()

	// The credential itself already proved ownership of a user
	// (password match, redeemed OTP, passkey assertion): plain sign-in.
	// A caller holding an anonymous token is deliberately discarded
	// here, not merged; signing in to someone else's account while
	// anonymous must not transfer data.
	if ev.ExistingUserID != "" {
		user, err := tx.GetUser(ctx, rc.ProjectID, ev.ExistingUserID)
		if err != nil {
			return nil, nil, err
		}
		if user == nil {
			return nil, nil, ErrUserNotFound
		}
		user.LastActiveAt = now
		if err := tx.SaveUser(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("save user: %w", err)
		}
		return &Resolution{User: user, Outcome: OutcomeSignedIn}, nil, nil
	}

	// OAuth sign-in to a previously linked provider account.
	if ev.Method == MethodOAuth {
		link, err := tx.FindSignInLink(ctx, rc.ProjectID, ev.ProviderConfigID, ev.ProviderAccountID)
		if err != nil {
			return nil, nil, err
		}
		if link != nil {
			user, err := tx.GetUser(ctx, rc.ProjectID, link.UserID)
			if err != nil {
				return nil, nil, err
			}
			if user == nil {
				return nil, nil, ErrUserNotFound
			}
			user.LastActiveAt = now
			if err := tx.SaveUser(ctx, user); err != nil {
				return nil, nil, fmt.Errorf("save user: %w", err)
			}
			return &Resolution{User: user, Outcome: OutcomeSignedIn}, nil, nil
		}
	}

	// From here on the event wants to CREATE (or upgrade the caller's
	// anonymous account). First resolve contact-value collisions.
	channelUsedForAuth := true
	if ev.NormalizedValue != "" {
		existing, err := tx.FindAuthChannel(ctx, rc.ProjectID, ev.ContactType, ev.NormalizedValue)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			res, usedForAuth, handled, err := r.resolveCollision(ctx, tx, rc, ev, existing, now)
			if err != nil {
				return nil, nil, err
			}
			if handled {
				return res, nil, nil
			}
			channelUsedForAuth = usedForAuth
		}
	}

	// Sign-up gate. Anonymous creation has its own switch and is
	// exempt; everything else, anonymous upgrade included, needs
	// sign-up enabled.
	if ev.Method != MethodAnonymous && !rc.Policy.AllowSignUp {
		return nil, nil, ErrSignUpNotEnabled
	}

	// Anonymous upgrade: mutate the caller's anonymous user in place.
	// A non-anonymous caller does not trigger this; their sign-up
	// creates a brand-new, unrelated user.
	if rc.Caller != nil && rc.Caller.IsAnonymous && ev.Method != MethodAnonymous {
		user, err := tx.GetUser(ctx, rc.ProjectID, rc.Caller.UserID)
		if err != nil {
			return nil, nil, err
		}
		if user != nil && user.IsAnonymous {
			return r.upgradeAnonymous(ctx, tx, rc, ev, user, channelUsedForAuth, now)
		}
	}

	return r.createUser(ctx, tx, rc, ev, channelUsedForAuth, now)
}

// resolveCollision applies the project's merge strategy to a contact
// value that is already used for auth by another user. It either
// returns a finished resolution (link_method onto a verified owner, or
// the pre-created-account sign-in allowed when sign-up is disabled),
// an error, or instructs the caller to proceed with UsedForAuth=false.
func (r *Resolver) resolveCollision(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, existing *ContactChannel, now time.Time) (*Resolution, bool, bool, error) {
	linkToOwner := func() (*Resolution, bool, bool, error) {
		owner, err := tx.GetUser(ctx, rc.ProjectID, existing.UserID)
		if err != nil {
			return nil, false, false, err
		}
		if owner == nil {
			return nil, false, false, ErrUserNotFound
		}
		if err := r.attachMethod(ctx, tx, rc, ev, owner, existing); err != nil {
			return nil, false, false, err
		}
		owner.LastActiveAt = now
		if err := tx.SaveUser(ctx, owner); err != nil {
			return nil, false, false, fmt.Errorf("save user: %w", err)
		}
		return &Resolution{User: owner, Outcome: OutcomeLinked}, false, true, nil
	}

	// Sign-up disabled: creating is off the table, but OAuth sign-in to
	// a server-provisioned account with a matching verified email is
	// still permitted since no new user is created. Only the provider's
	// own email verification qualifies here.
	if !rc.Policy.AllowSignUp && ev.Method == MethodOAuth && ev.VerifiedByProvider && existing.IsVerified {
		return linkToOwner()
	}

	switch rc.Policy.MergeStrategy {
	case MergeAllowDuplicates:
		// Both users keep separate identities; the new channel holds
		// the same value but is not usable for auth.
		return nil, false, false, nil
	case MergeLinkMethod:
		if existing.IsVerified {
			return linkToOwner()
		}
		return nil, false, false, NewContactChannelInUseError(true)
	default: // raise_error and unset
		return nil, false, false, NewContactChannelInUseError(!existing.IsVerified)
	}
}

// attachMethod adds the event's auth method onto an existing owner and
// channel (true merge: one channel row backing two methods).
func (r *Resolver) attachMethod(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, owner *User, channel *ContactChannel) error {
	switch ev.Method {
	case MethodOAuth:
		return r.createSignInLink(ctx, tx, rc, ev, owner.ID)
	case MethodPassword:
		if ev.NewPasswordHash != "" {
			owner.PasswordHash = ev.NewPasswordHash
		}
	}
	if ev.VerifiedByProvider && !channel.IsVerified {
		channel.IsVerified = true
		if err := tx.SaveChannel(ctx, channel); err != nil {
			return fmt.Errorf("save channel: %w", err)
		}
	}
	return nil
}

// createSignInLink creates a provider link with sign-in enabled,
// honoring the one-sign-in-link-per-provider-type invariant.
func (r *Resolver) createSignInLink(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, userID string) error {
	links, err := tx.ListUserLinks(ctx, rc.ProjectID, userID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.ProviderType == ev.ProviderType && l.AllowSignIn {
			return ErrProviderSignInLinkExists
		}
	}
	return tx.CreateLink(ctx, &OAuthProviderLink{
		ID:                     uuid.NewString(),
		ProjectID:              rc.ProjectID,
		UserID:                 userID,
		ProviderConfigID:       ev.ProviderConfigID,
		ProviderType:           ev.ProviderType,
		AccountID:              ev.ProviderAccountID,
		Email:                  ev.ContactValue,
		AllowSignIn:            true,
		AllowConnectedAccounts: true,
		CreatedAt:              r.now(),
	})
}

func (r *Resolver) upgradeAnonymous(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, user *User, usedForAuth bool, now time.Time) (*Resolution, []pendingEvent, error) {
	// Upgrade mutates in place: the old anonymous access token keeps
	// referring to this same user id afterwards.
	user.IsAnonymous = false
	user.LastActiveAt = now
	if user.DisplayName == "" && ev.PreferredDisplayName != "" {
		user.DisplayName = ev.PreferredDisplayName
	}
	if err := r.attachIdentity(ctx, tx, rc, ev, user, usedForAuth, now); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("save user: %w", err)
	}

	// Rename the personal team only while it still carries the
	// auto-generated default; a name the user customized stays.
	if user.PersonalTeamID != "" && ev.ContactType == ContactEmail && ev.ContactValue != "" {
		team, err := tx.GetTeam(ctx, rc.ProjectID, user.PersonalTeamID)
		if err != nil {
			return nil, nil, err
		}
		if team != nil && team.DisplayName == rc.Policy.PersonalTeamDefaultName {
			team.DisplayName = fmt.Sprintf("%s's Team", ev.ContactValue)
			if err := tx.SaveTeam(ctx, team); err != nil {
				return nil, nil, fmt.Errorf("save team: %w", err)
			}
		}
	}

	events := []pendingEvent{{EventUserUpdated, map[string]any{
		"user_id":    user.ID,
		"project_id": rc.ProjectID,
	}}}
	return &Resolution{User: user, Outcome: OutcomeUpgraded}, events, nil
}

func (r *Resolver) createUser(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, usedForAuth bool, now time.Time) (*Resolution, []pendingEvent, error) {
	user := &User{
		ID:           uuid.NewString(),
		ProjectID:    rc.ProjectID,
		IsAnonymous:  ev.Method == MethodAnonymous,
		DisplayName:  ev.PreferredDisplayName,
		SignedUpAt:   now,
		LastActiveAt: now,
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	team := &Team{
		ID:          uuid.NewString(),
		ProjectID:   rc.ProjectID,
		DisplayName: rc.Policy.PersonalTeamDefaultName,
		CreatedAt:   now,
	}
	if err := tx.CreateTeam(ctx, team); err != nil {
		return nil, nil, fmt.Errorf("create team: %w", err)
	}
	if err := tx.AddTeamMember(ctx, rc.ProjectID, team.ID, user.ID); err != nil {
		return nil, nil, err
	}
	user.PersonalTeamID = team.ID

	if err := r.attachIdentity(ctx, tx, rc, ev, user, usedForAuth, now); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("save user: %w", err)
	}

	events := []pendingEvent{
		{EventUserCreated, map[string]any{
			"user_id":      user.ID,
			"project_id":   rc.ProjectID,
			"is_anonymous": user.IsAnonymous,
		}},
		{EventTeamMembershipCreated, map[string]any{
			"team_id":    team.ID,
			"user_id":    user.ID,
			"project_id": rc.ProjectID,
		}},
	}
	return &Resolution{User: user, Outcome: OutcomeCreated}, events, nil
}

// attachIdentity writes the event's contact channel, provider link and
// credential onto the target user.
func (r *Resolver) attachIdentity(ctx context.Context, tx Store, rc RequestContext, ev AuthenticationEvent, user *User, usedForAuth bool, now time.Time) error {
	if ev.NewPasswordHash != "" {
		user.PasswordHash = ev.NewPasswordHash
	}
	if ev.ContactValue != "" {
		ch := &ContactChannel{
			ID:              uuid.NewString(),
			ProjectID:       rc.ProjectID,
			UserID:          user.ID,
			Type:            ev.ContactType,
			Value:           ev.ContactValue,
			NormalizedValue: ev.NormalizedValue,
			IsVerified:      ev.VerifiedByProvider,
			UsedForAuth:     usedForAuth,
			IsPrimary:       true,
			CreatedAt:       now,
		}
		if err := tx.CreateChannel(ctx, ch); err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		if ev.ContactType == ContactEmail {
			user.PrimaryEmail = ev.ContactValue
		}
	}
	if ev.Method == MethodOAuth {
		if err := r.createSignInLink(ctx, tx, rc, ev, user.ID); err != nil {
			return err
		}
	}
	return nil
}
