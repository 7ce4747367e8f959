package stackauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channels manages a user's contact channels outside of the sign-in
// path: listing, creating secondary addresses, flipping the
// used-for-auth and primary flags, and the verification mail loop.
// The uniqueness invariant it defends: at most one channel per
// (project, type, normalized value) has UsedForAuth set.
type Channels struct {
	Store   Store
	Mailbox Mailbox
	BaseURL string
	CodeTTL time.Duration

	Now func() time.Time
}

func (c *Channels) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Channels) ttl() time.Duration {
	if c.CodeTTL > 0 {
		return c.CodeTTL
	}
	return 30 * time.Minute
}

// CreateChannelOptions controls the initial flags on a new channel.
type CreateChannelOptions struct {
	Type        ContactType
	Value       string
	UsedForAuth bool
	IsPrimary   bool
}

// List returns the user's channels.
func (c *Channels) List(ctx context.Context, rc RequestContext, userID string) ([]*ContactChannel, error) {
	return c.Store.ListUserChannels(ctx, rc.ProjectID, userID)
}

// Get returns one channel, scoped to the owning user.
func (c *Channels) Get(ctx context.Context, rc RequestContext, userID, channelID string) (*ContactChannel, error) {
	ch, err := c.Store.GetChannel(ctx, rc.ProjectID, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil || ch.UserID != userID {
		return nil, ErrContactChannelNotFound
	}
	return ch, nil
}

// Create adds a channel to the user. A channel created through this
// path starts unverified; requesting UsedForAuth runs the same
// collision check the resolver uses, inside one transaction.
func (c *Channels) Create(ctx context.Context, rc RequestContext, userID string, opts CreateChannelOptions) (*ContactChannel, error) {
	norm := NormalizeContactValue(opts.Type, opts.Value)
	ch := &ContactChannel{
		ID:              uuid.NewString(),
		ProjectID:       rc.ProjectID,
		UserID:          userID,
		Type:            opts.Type,
		Value:           opts.Value,
		NormalizedValue: norm,
		IsVerified:      false,
		UsedForAuth:     opts.UsedForAuth,
		IsPrimary:       opts.IsPrimary,
		CreatedAt:       c.now(),
	}
	err := c.Store.InTransaction(ctx, func(tx Store) error {
		if opts.UsedForAuth {
			existing, err := tx.FindAuthChannel(ctx, rc.ProjectID, opts.Type, norm)
			if err != nil {
				return err
			}
			if existing != nil && existing.UserID != userID {
				return NewContactChannelInUseError(!existing.IsVerified)
			}
			if existing != nil {
				return NewContactChannelInUseError(false)
			}
		}
		if opts.IsPrimary {
			if err := c.demotePrimary(ctx, tx, rc.ProjectID, userID, opts.Type); err != nil {
				return err
			}
		}
		if err := tx.CreateChannel(ctx, ch); err != nil {
			return err
		}
		if opts.IsPrimary && opts.Type == ContactEmail {
			return c.syncPrimaryEmail(ctx, tx, rc.ProjectID, userID, ch.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// UpdateChannelPatch is a partial update; nil fields are untouched.
type UpdateChannelPatch struct {
	Value       *string
	UsedForAuth *bool
	IsPrimary   *bool
	IsVerified  *bool
}

// Update applies a patch. Changing the value resets verification;
// enabling used_for_auth re-runs the collision check.
func (c *Channels) Update(ctx context.Context, rc RequestContext, userID, channelID string, patch UpdateChannelPatch) (*ContactChannel, error) {
	var out *ContactChannel
	err := c.Store.InTransaction(ctx, func(tx Store) error {
		ch, err := tx.GetChannel(ctx, rc.ProjectID, channelID)
		if err != nil {
			return err
		}
		if ch == nil || ch.UserID != userID {
			return ErrContactChannelNotFound
		}
		if patch.Value != nil && *patch.Value != ch.Value {
			ch.Value = *patch.Value
			ch.NormalizedValue = NormalizeContactValue(ch.Type, ch.Value)
			ch.IsVerified = false
			if ch.UsedForAuth {
				existing, err := tx.FindAuthChannel(ctx, rc.ProjectID, ch.Type, ch.NormalizedValue)
				if err != nil {
					return err
				}
				if existing != nil && existing.ID != ch.ID {
					return NewContactChannelInUseError(!existing.IsVerified)
				}
			}
		}
		if patch.UsedForAuth != nil && *patch.UsedForAuth != ch.UsedForAuth {
			if *patch.UsedForAuth {
				existing, err := tx.FindAuthChannel(ctx, rc.ProjectID, ch.Type, ch.NormalizedValue)
				if err != nil {
					return err
				}
				if existing != nil && existing.ID != ch.ID {
					return NewContactChannelInUseError(!existing.IsVerified)
				}
			}
			ch.UsedForAuth = *patch.UsedForAuth
		}
		if patch.IsVerified != nil {
			// Server-side override; client flows verify via codes.
			ch.IsVerified = *patch.IsVerified
		}
		if patch.IsPrimary != nil && *patch.IsPrimary != ch.IsPrimary {
			if *patch.IsPrimary {
				if err := c.demotePrimary(ctx, tx, rc.ProjectID, userID, ch.Type); err != nil {
					return err
				}
			}
			ch.IsPrimary = *patch.IsPrimary
		}
		if err := tx.SaveChannel(ctx, ch); err != nil {
			return err
		}
		if ch.Type == ContactEmail && ch.IsPrimary {
			if err := c.syncPrimaryEmail(ctx, tx, rc.ProjectID, userID, ch.Value); err != nil {
				return err
			}
		}
		out = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a channel. Deleting the channel backing the user's
// primary email clears the denormalized field.
func (c *Channels) Delete(ctx context.Context, rc RequestContext, userID, channelID string) error {
	return c.Store.InTransaction(ctx, func(tx Store) error {
		ch, err := tx.GetChannel(ctx, rc.ProjectID, channelID)
		if err != nil {
			return err
		}
		if ch == nil || ch.UserID != userID {
			return ErrContactChannelNotFound
		}
		if err := tx.DeleteChannel(ctx, rc.ProjectID, channelID); err != nil {
			return err
		}
		if ch.IsPrimary && ch.Type == ContactEmail {
			return c.syncPrimaryEmail(ctx, tx, rc.ProjectID, userID, "")
		}
		return nil
	})
}

// SendVerificationCode mails a verification code for an unverified
// channel. Already-verified channels are a no-op success.
func (c *Channels) SendVerificationCode(ctx context.Context, rc RequestContext, userID, channelID string) error {
	ch, err := c.Get(ctx, rc, userID, channelID)
	if err != nil {
		return err
	}
	if ch.IsVerified {
		return nil
	}
	if ch.Type != ContactEmail {
		return fmt.Errorf("verification mail requires an email channel, got %s", ch.Type)
	}
	code, err := GenerateSecureToken()
	if err != nil {
		return err
	}
	now := c.now()
	if err := c.Store.CreateCode(ctx, &VerificationCode{
		ID:        uuid.NewString(),
		ProjectID: rc.ProjectID,
		Kind:      CodeKindContactVerify,
		CodeHash:  HashCode(code),
		Recipient: ch.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl()),
	}); err != nil {
		return fmt.Errorf("create verification code: %w", err)
	}
	return c.Mailbox.Send(ctx, ch.Value, TemplateContactVerify, map[string]any{
		"code": code,
		"link": fmt.Sprintf("%s/auth/contact-channels/verify?code=%s", c.BaseURL, code),
	})
}

// Verify redeems a verification code and marks its channel verified.
func (c *Channels) Verify(ctx context.Context, rc RequestContext, code string) (*ContactChannel, error) {
	vc, err := c.Store.ConsumeCode(ctx, rc.ProjectID, CodeKindContactVerify, HashCode(code), c.now())
	if err != nil {
		return nil, err
	}
	ch, err := c.Store.GetChannel(ctx, rc.ProjectID, vc.Recipient)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrContactChannelNotFound
	}
	if !ch.IsVerified {
		ch.IsVerified = true
		if err := c.Store.SaveChannel(ctx, ch); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// demotePrimary clears IsPrimary on the user's other channels of the
// same type so at most one stays primary.
func (c *Channels) demotePrimary(ctx context.Context, tx Store, projectID, userID string, t ContactType) error {
	chans, err := tx.ListUserChannels(ctx, projectID, userID)
	if err != nil {
		return err
	}
	for _, other := range chans {
		if other.Type == t && other.IsPrimary {
			other.IsPrimary = false
			if err := tx.SaveChannel(ctx, other); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncPrimaryEmail keeps the denormalized User.PrimaryEmail in step
// with the primary email channel.
func (c *Channels) syncPrimaryEmail(ctx context.Context, tx Store, projectID, userID, email string) error {
	user, err := tx.GetUser(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.PrimaryEmail == email {
		return nil
	}
	user.PrimaryEmail = email
	return tx.SaveUser(ctx, user)
}
