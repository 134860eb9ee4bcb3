package service

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
	"github.com/pesio-ai/be-shift-reviews/internal/logger"
)

// Identity is a resolved user.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// IdentityCache memoises resolved identities for one batch of work. It has
// no expiry; create a new one per batch.
type IdentityCache struct {
	mu      sync.Mutex
	byUID   map[string]*Identity
	byEmail map[string]*Identity
}

// NewIdentityCache returns an empty cache.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		byUID:   make(map[string]*Identity),
		byEmail: make(map[string]*Identity),
	}
}

func (c *IdentityCache) uid(uid string) (*Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byUID[uid]
	return id, ok
}

// email returns a cached result. A cached nil means the email is unknown.
func (c *IdentityCache) email(email string) (*Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byEmail[email]
	return id, ok
}

func (c *IdentityCache) putUID(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUID[id.UID] = id
	if id.Email != "" {
		if _, ok := c.byEmail[id.Email]; !ok {
			c.byEmail[id.Email] = id
		}
	}
}

func (c *IdentityCache) putEmail(email string, id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byEmail[email] = id
}

// IdentityResolver resolves a uid or email to an Identity. Lookup failures
// are logged and treated as not found.
type IdentityResolver struct {
	users UserStore
	auth  AuthProvider
	cache *IdentityCache
	group singleflight.Group
	log   *logger.Logger
}

// NewIdentityResolver creates a resolver over the given cache. A nil cache
// gets a fresh one.
func NewIdentityResolver(users UserStore, auth AuthProvider, cache *IdentityCache, log *logger.Logger) *IdentityResolver {
	if cache == nil {
		cache = NewIdentityCache()
	}
	return &IdentityResolver{users: users, auth: auth, cache: cache, log: log}
}

// Resolve dispatches on the shape of the input: anything containing "@" is
// looked up as an email.
func (r *IdentityResolver) Resolve(ctx context.Context, uidOrEmail string) *Identity {
	if strings.Contains(uidOrEmail, "@") {
		return r.ByEmail(ctx, uidOrEmail)
	}
	return r.ByUID(ctx, uidOrEmail)
}

// ByUID resolves a uid. The profile store is consulted first and the auth
// provider fills any missing email or display name. The result is never
// nil for a non-empty uid: the display name falls back to the email and
// then to the uid itself.
func (r *IdentityResolver) ByUID(ctx context.Context, uid string) *Identity {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil
	}
	if id, ok := r.cache.uid(uid); ok {
		return id
	}

	v, _, _ := r.group.Do("uid:"+uid, func() (any, error) {
		if id, ok := r.cache.uid(uid); ok {
			return id, nil
		}
		id := r.lookupUID(ctx, uid)
		r.cache.putUID(id)
		return id, nil
	})
	return v.(*Identity)
}

func (r *IdentityResolver) lookupUID(ctx context.Context, uid string) *Identity {
	var email, name string

	profile, err := r.users.GetByID(ctx, uid)
	switch {
	case err == nil:
		email = strings.ToLower(strings.TrimSpace(profile.Email))
		name = strings.TrimSpace(profile.DisplayName)
	case !errors.HasCode(err, errors.ErrCodeNotFound):
		r.log.Warn().Err(err).Str("uid", uid).Msg("Failed to read user profile")
	}

	if email == "" || name == "" {
		record, err := r.auth.GetUser(ctx, uid)
		switch {
		case err == nil:
			if email == "" {
				email = strings.ToLower(strings.TrimSpace(record.Email))
			}
			if name == "" {
				name = strings.TrimSpace(record.DisplayName)
				if name == "" {
					name = strings.TrimSpace(record.Email)
				}
			}
		case !errors.HasCode(err, errors.ErrCodeNotFound):
			r.log.Warn().Err(err).Str("uid", uid).Msg("Auth record lookup failed while resolving identity")
		}
	}

	if name == "" {
		name = email
	}
	if name == "" {
		name = uid
	}
	return &Identity{UID: uid, Email: email, DisplayName: name}
}

// ByEmail resolves an email through the auth provider, then the profile
// store. An unknown email resolves to nil and the miss is cached.
func (r *IdentityResolver) ByEmail(ctx context.Context, email string) *Identity {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	if id, ok := r.cache.email(email); ok {
		return id
	}

	v, _, _ := r.group.Do("email:"+email, func() (any, error) {
		if id, ok := r.cache.email(email); ok {
			return id, nil
		}
		id := r.lookupEmail(ctx, email)
		r.cache.putEmail(email, id)
		return id, nil
	})
	id, _ := v.(*Identity)
	return id
}

func (r *IdentityResolver) lookupEmail(ctx context.Context, email string) *Identity {
	record, err := r.auth.GetUserByEmail(ctx, email)
	switch {
	case err == nil && record.UID != "":
		return r.ByUID(ctx, record.UID)
	case err != nil && !errors.HasCode(err, errors.ErrCodeNotFound):
		r.log.Warn().Err(err).Str("email", email).Msg("Auth lookup by email failed while resolving identity")
	}

	profile, err := r.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		name := strings.TrimSpace(profile.DisplayName)
		if name == "" {
			name = strings.TrimSpace(profile.Email)
		}
		if name == "" {
			name = email
		}
		id := &Identity{UID: profile.ID, Email: email, DisplayName: name}
		r.cache.putUID(id)
		return id
	case !errors.HasCode(err, errors.ErrCodeNotFound):
		r.log.Warn().Err(err).Str("email", email).Msg("Profile lookup by email failed while resolving identity")
	}
	return nil
}
