package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxURLLength         = 2048
	maxRedirectDelay     = 300
	maxInterstitialPages = 5
	maxCreateAttempts    = 3
	defaultPublisherRate = 80
)

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, ownerID string, input CreateLinkInput) (*model.Link, error)
	GetLink(ctx context.Context, ownerID, id string) (*model.Link, error)
	ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	UpdateLink(ctx context.Context, ownerID, id string, input UpdateLinkInput) (*model.Link, error)
	DeleteLink(ctx context.Context, ownerID, id string) error
	ReconcileLink(ctx context.Context, ownerID, id string) (*model.Link, error)
	OwnerStats(ctx context.Context, ownerID string) (*model.UserStats, error)
	// Resolve returns the link behind code if visitors may currently use it.
	Resolve(ctx context.Context, code string) (*model.Link, error)
}

// LinkServiceDeps groups dependencies required by the link service.
type LinkServiceDeps struct {
	Logger     *zap.Logger
	Links      repository.LinkRepository
	UserStats  repository.UserStatsRepository
	Allocator  *CodeAllocator
	Reconciler repository.Reconciler
	// PublisherRate is the owner's percentage share of earnings on new links.
	PublisherRate int
	Now           func() time.Time
}

type linkService struct {
	logger        *zap.Logger
	repo          repository.LinkRepository
	userStats     repository.UserStatsRepository
	allocator     *CodeAllocator
	reconciler    repository.Reconciler
	publisherRate int
	now           func() time.Time
}

// NewLinkService returns a service implementation backed by the given repositories.
func NewLinkService(deps LinkServiceDeps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rate := deps.PublisherRate
	if rate <= 0 || rate > 100 {
		rate = defaultPublisherRate
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	allocator := deps.Allocator
	if allocator == nil {
		allocator = NewCodeAllocator(deps.Links, AllocatorConfig{}, logger)
	}
	return &linkService{
		logger:        logger,
		repo:          deps.Links,
		userStats:     deps.UserStats,
		allocator:     allocator,
		reconciler:    deps.Reconciler,
		publisherRate: rate,
		now:           now,
	}
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	DestinationURL    string
	Title             string
	CustomCode        string
	ExpiresAt         *time.Time
	RedirectDelay     int
	Password          string
	AdsEnabled        *bool
	InterstitialPages *int
	Campaign          string
	Tags              []string
}

// UpdateLinkInput captures fields that can be changed on an existing link.
// ShortCode is accepted only so an attempted change can be rejected.
type UpdateLinkInput struct {
	ShortCode         *string
	DestinationURL    *string
	Title             *string
	Status            *model.LinkStatus
	ExpiresAt         *time.Time
	ClearExpiry       bool
	RedirectDelay     *int
	Password          *string
	AdsEnabled        *bool
	InterstitialPages *int
	Campaign          *string
	Tags              *[]string
}

func (s *linkService) CreateLink(ctx context.Context, ownerID string, input CreateLinkInput) (*model.Link, error) {
	if err := ValidateDestinationURL(input.DestinationURL); err != nil {
		return nil, err
	}
	if err := validateDelay(input.RedirectDelay); err != nil {
		return nil, err
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidInput)
	}

	settings := model.LinkSettings{
		RedirectDelay:     input.RedirectDelay,
		AdsEnabled:        true,
		InterstitialPages: 1,
	}
	if input.AdsEnabled != nil {
		settings.AdsEnabled = *input.AdsEnabled
	}
	if input.InterstitialPages != nil {
		if err := validatePages(*input.InterstitialPages); err != nil {
			return nil, err
		}
		settings.InterstitialPages = *input.InterstitialPages
	}
	if input.Password != "" {
		hash, err := hashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		settings.PasswordHash = hash
	}

	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err := s.allocator.Allocate(ctx, input.CustomCode)
		if err != nil {
			return nil, fmt.Errorf("allocate code: %w", err)
		}

		link := &model.Link{
			ShortCode:      code,
			OwnerID:        ownerID,
			DestinationURL: strings.TrimSpace(input.DestinationURL),
			Title:          input.Title,
			Status:         model.LinkStatusActive,
			Settings:       settings,
			Campaign:       input.Campaign,
			Tags:           tags,
			PublisherRate:  s.publisherRate,
			PlatformRate:   100 - s.publisherRate,
			ExpiresAt:      input.ExpiresAt,
		}

		err = s.repo.Create(ctx, link)
		if errors.Is(err, repository.ErrCodeTaken) {
			s.allocator.Remember(code)
			if input.CustomCode != "" {
				return nil, ErrCodeTaken
			}
			s.logger.Warn("short code lost creation race, retrying", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}

		s.allocator.Remember(code)
		if s.userStats != nil {
			if err := s.userStats.Increment(ctx, ownerID, model.UserStatsDelta{Links: 1}); err != nil {
				s.logger.Error("failed to increment owner link count", zap.String("owner_id", ownerID), zap.Error(err))
			}
		}
		return link, nil
	}

	return nil, ErrAllocationExhausted
}

func (s *linkService) GetLink(ctx context.Context, ownerID, id string) (*model.Link, error) {
	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if link.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return link, nil
}

func (s *linkService) ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	links, err := s.repo.List(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *linkService) UpdateLink(ctx context.Context, ownerID, id string, input UpdateLinkInput) (*model.Link, error) {
	link, err := s.GetLink(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if input.ShortCode != nil && *input.ShortCode != link.ShortCode {
		return nil, ErrShortCodeImmutable
	}

	patch := model.LinkPatch{
		Title:             input.Title,
		Status:            input.Status,
		ExpiresAt:         input.ExpiresAt,
		ClearExpiry:       input.ClearExpiry,
		Campaign:          input.Campaign,
		Tags:              input.Tags,
		AdsEnabled:        input.AdsEnabled,
		InterstitialPages: input.InterstitialPages,
		RedirectDelay:     input.RedirectDelay,
	}

	if input.DestinationURL != nil {
		if err := ValidateDestinationURL(*input.DestinationURL); err != nil {
			return nil, err
		}
		dest := strings.TrimSpace(*input.DestinationURL)
		patch.DestinationURL = &dest
	}
	if input.Status != nil {
		switch *input.Status {
		case model.LinkStatusActive, model.LinkStatusInactive:
		default:
			return nil, fmt.Errorf("%w: status must be active or inactive", ErrInvalidInput)
		}
	}
	if input.RedirectDelay != nil {
		if err := validateDelay(*input.RedirectDelay); err != nil {
			return nil, err
		}
	}
	if input.InterstitialPages != nil {
		if err := validatePages(*input.InterstitialPages); err != nil {
			return nil, err
		}
	}
	if input.Password != nil {
		hash := ""
		if *input.Password != "" {
			if hash, err = hashPassword(*input.Password); err != nil {
				return nil, err
			}
		}
		patch.PasswordHash = &hash
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update link: %w", err)
	}
	return updated, nil
}

func (s *linkService) DeleteLink(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetLink(ctx, ownerID, id); err != nil {
		return err
	}
	inactive := model.LinkStatusInactive
	if _, err := s.repo.Update(ctx, id, model.LinkPatch{Status: &inactive}); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

func (s *linkService) ReconcileLink(ctx context.Context, ownerID, id string) (*model.Link, error) {
	if _, err := s.GetLink(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if s.reconciler == nil {
		return nil, errors.New("reconciliation is not configured")
	}
	if err := s.reconciler.Reconcile(ctx, id); err != nil {
		return nil, fmt.Errorf("reconcile link: %w", err)
	}
	return s.GetLink(ctx, ownerID, id)
}

func (s *linkService) OwnerStats(ctx context.Context, ownerID string) (*model.UserStats, error) {
	stats, err := s.userStats.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner stats: %w", err)
	}
	return stats, nil
}

func (s *linkService) Resolve(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolve link: %w", err)
	}
	switch link.EffectiveStatus(s.now()) {
	case model.LinkStatusActive:
		return link, nil
	case model.LinkStatusExpired:
		return link, ErrLinkExpired
	default:
		return link, ErrLinkInactive
	}
}

// VerifyLinkPassword checks password against the link's stored hash.
func VerifyLinkPassword(link *model.Link, password string) error {
	if !link.Settings.HasPassword() {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(link.Settings.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// ValidateDestinationURL accepts absolute http(s) URLs that do not point at a
// loopback or private address literal.
func ValidateDestinationURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: destinationUrl is required", ErrInvalidURL)
	}
	if len(raw) > maxURLLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, maxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: local destinations are not allowed", ErrInvalidURL)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
			return fmt.Errorf("%w: private destinations are not allowed", ErrInvalidURL)
		}
	} else if !strings.Contains(host, ".") {
		return fmt.Errorf("%w: host must be fully qualified", ErrInvalidURL)
	}
	return nil
}

func validateDelay(seconds int) error {
	if seconds < 0 || seconds > maxRedirectDelay {
		return fmt.Errorf("%w: redirectDelaySeconds must be between 0 and %d", ErrInvalidInput, maxRedirectDelay)
	}
	return nil
}

func validatePages(pages int) error {
	if pages < 0 || pages > maxInterstitialPages {
		return fmt.Errorf("%w: interstitialPages must be between 0 and %d", ErrInvalidInput, maxInterstitialPages)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash link password: %w", err)
	}
	return string(hash), nil
}
