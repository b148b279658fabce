// Package roblox resolves usernames, outfit listings and 3D asset descriptors
// against the public Roblox web APIs (through a proxy host by default).
package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"rbx-avatar-renderer/internal/apperr"
	"rbx-avatar-renderer/internal/asset"
	"rbx-avatar-renderer/internal/fetch"
)

// Default API base URLs.
const (
	DefaultUsersURL      = "https://users.roproxy.com"
	DefaultAvatarURL     = "https://avatar.roproxy.com"
	DefaultThumbnailsURL = "https://thumbnails.roproxy.com"
)

// UnnamedOutfit replaces missing outfit names.
const UnnamedOutfit = "Unnamed Outfit"

// Messages surfaced when no 3D manifest is available.
const (
	MsgOutfitModerated = "one or more accessories have been moderated in this outfit"
	MsgNoAvatar3D      = "no 3D data available for this user"
)

var digitsRe = regexp.MustCompile(`^\d+$`)

// JSONClient is the subset of *fetch.Client the resolver needs.
type JSONClient interface {
	GetJSON(ctx context.Context, url string, v any) error
	PostJSON(ctx context.Context, url string, body, v any) error
	GetRawJSON(ctx context.Context, url string) (json.RawMessage, error)
}

// Endpoints holds the API base URLs.
type Endpoints struct {
	Users      string `yaml:"users" json:"users"`
	Avatar     string `yaml:"avatar" json:"avatar"`
	Thumbnails string `yaml:"thumbnails" json:"thumbnails"`
}

func (e Endpoints) withDefaults() Endpoints {
	if e.Users == "" {
		e.Users = DefaultUsersURL
	}
	if e.Avatar == "" {
		e.Avatar = DefaultAvatarURL
	}
	if e.Thumbnails == "" {
		e.Thumbnails = DefaultThumbnailsURL
	}
	e.Users = strings.TrimRight(e.Users, "/")
	e.Avatar = strings.TrimRight(e.Avatar, "/")
	e.Thumbnails = strings.TrimRight(e.Thumbnails, "/")
	return e
}

// Options configures a Resolver.
type Options struct {
	Endpoints Endpoints
	// ColdStartRetries is how many extra times an outfit descriptor lookup is
	// attempted after a 404 or a pending thumbnail.
	ColdStartRetries int
	ColdStartDelay   time.Duration
	Sleep            fetch.SleepFunc
	Logger           *zap.Logger
}

// Resolver turns usernames and ids into identities, outfit lists and descriptors.
type Resolver struct {
	client    JSONClient
	endpoints Endpoints
	coldRetry int
	coldDelay time.Duration
	sleep     fetch.SleepFunc
	logger    *zap.Logger
}

// NewResolver returns a Resolver issuing requests through client.
func NewResolver(client JSONClient, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ColdStartRetries < 0 {
		opts.ColdStartRetries = 0
	}
	if opts.ColdStartDelay <= 0 {
		opts.ColdStartDelay = 500 * time.Millisecond
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &Resolver{
		client:    client,
		endpoints: opts.Endpoints.withDefaults(),
		coldRetry: opts.ColdStartRetries,
		coldDelay: opts.ColdStartDelay,
		sleep:     opts.Sleep,
		logger:    opts.Logger.With(zap.String("component", "roblox")),
	}
}

// ParseID validates a decimal identifier. field names it in the error message.
func ParseID(raw, field string) (int64, error) {
	s := strings.Join(strings.Fields(raw), "")
	if !digitsRe.MatchString(s) {
		return 0, apperr.Newf(apperr.InvalidInput, "invalid %s", field)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperr.Newf(apperr.InvalidInput, "invalid %s", field)
	}
	return id, nil
}

type usernameRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernameResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

// UsernameToID looks up the numeric id of a username.
func (r *Resolver) UsernameToID(ctx context.Context, username string) (int64, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return 0, apperr.New(apperr.InvalidInput, "username required")
	}
	var out usernameResponse
	err := r.client.PostJSON(ctx, r.endpoints.Users+"/v1/usernames/users",
		usernameRequest{Usernames: []string{u}, ExcludeBannedUsers: false}, &out)
	if err != nil {
		return 0, fmt.Errorf("roblox: lookup %q: %w", u, err)
	}
	if len(out.Data) == 0 || out.Data[0].ID == 0 {
		return 0, apperr.New(apperr.NotFound, "user not found")
	}
	r.logger.Debug("username resolved", zap.String("username", u), zap.Int64("user_id", out.Data[0].ID))
	return out.Data[0].ID, nil
}

// Outfit is one saved outfit.
type Outfit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OutfitList is the listing returned to callers.
type OutfitList struct {
	UserID  string   `json:"userId"`
	Total   int      `json:"total"`
	Fetched int      `json:"fetched"`
	Outfits []Outfit `json:"outfits"`
}

type outfitsResponse struct {
	Data []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
	Total *int `json:"total"`
}

// Outfits lists a user's editable outfits (first page, up to 999 entries).
func (r *Resolver) Outfits(ctx context.Context, userID int64) (*OutfitList, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("itemsPerPage", "999")
	q.Set("isEditable", "true")
	endpoint := fmt.Sprintf("%s/v2/avatar/users/%d/outfits?%s", r.endpoints.Avatar, userID, q.Encode())

	var out outfitsResponse
	if err := r.client.GetJSON(ctx, endpoint, &out); err != nil {
		return nil, fmt.Errorf("roblox: outfits of %d: %w", userID, err)
	}

	list := &OutfitList{
		UserID:  strconv.FormatInt(userID, 10),
		Outfits: make([]Outfit, 0, len(out.Data)),
	}
	for _, o := range out.Data {
		name := o.Name
		if name == "" {
			name = UnnamedOutfit
		}
		list.Outfits = append(list.Outfits, Outfit{ID: o.ID, Name: name})
	}
	list.Fetched = len(list.Outfits)
	list.Total = list.Fetched
	if out.Total != nil {
		list.Total = *out.Total
	}
	return list, nil
}

// AvatarDescriptor resolves the 3D manifest of a user's current avatar.
func (r *Resolver) AvatarDescriptor(ctx context.Context, userID int64) (*asset.Descriptor, error) {
	endpoint := fmt.Sprintf("%s/v1/users/avatar-3d?userId=%d", r.endpoints.Thumbnails, userID)
	thumb, err := r.thumbnail(ctx, endpoint, true)
	if err != nil {
		return nil, fmt.Errorf("roblox: avatar 3D of %d: %w", userID, err)
	}
	entry, ok := thumb.Entry()
	if !ok || entry.ImageURL == "" {
		return nil, apperr.New(apperr.NotFound, MsgNoAvatar3D)
	}
	return r.manifest(ctx, entry.ImageURL)
}

// OutfitDescriptor resolves the 3D manifest of a saved outfit. A 404 or a
// pending thumbnail is retried ColdStartRetries times.
func (r *Resolver) OutfitDescriptor(ctx context.Context, outfitID int64) (*asset.Descriptor, error) {
	endpoint := fmt.Sprintf("%s/v1/users/outfit-3d?outfitId=%d", r.endpoints.Thumbnails, outfitID)

	for attempt := 0; ; attempt++ {
		thumb, err := r.thumbnail(ctx, endpoint, false)
		coldStart := apperr.Is(err, apperr.NotFound)
		if err == nil {
			entry, ok := thumb.Entry()
			if ok && entry.ImageURL != "" {
				return r.manifest(ctx, entry.ImageURL)
			}
			coldStart = ok && strings.EqualFold(entry.State, StatePending)
			if !coldStart {
				return nil, apperr.New(apperr.NotFound, MsgOutfitModerated)
			}
		} else if !coldStart {
			return nil, fmt.Errorf("roblox: outfit 3D of %d: %w", outfitID, err)
		}

		if attempt >= r.coldRetry {
			return nil, apperr.New(apperr.NotFound, MsgOutfitModerated)
		}
		delay := r.coldDelay * time.Duration(attempt+1)
		r.logger.Debug("outfit 3D not ready, retrying",
			zap.Int64("outfit_id", outfitID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (r *Resolver) thumbnail(ctx context.Context, endpoint string, acceptTarget bool) (ThumbnailResult, error) {
	raw, err := r.client.GetRawJSON(ctx, endpoint)
	if err != nil {
		return ThumbnailResult{}, err
	}
	return ParseThumbnail(raw, acceptTarget)
}

func (r *Resolver) manifest(ctx context.Context, imageURL string) (*asset.Descriptor, error) {
	raw, err := r.client.GetRawJSON(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("roblox: fetch 3D manifest: %w", err)
	}
	return asset.ParseDescriptor(raw)
}
