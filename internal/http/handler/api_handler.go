package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/service"
	"github.com/sifan077/linkpay/internal/http/middleware"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StatsReader produces analytics reports for a link.
type StatsReader interface {
	GetStats(ctx context.Context, linkID string, period model.Period) (*model.StatsReport, error)
}

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	Analytics   StatsReader
	// BaseURL prefixes short codes in shortUrl, without a trailing slash.
	BaseURL string
	// Auth resolves the owner of each request; see middleware.OwnerAuth.
	Auth fiber.Handler
	Now  func() time.Time
}

// APIHandler implements the owner-facing management API.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	analytics   StatsReader
	baseURL     string
	auth        fiber.Handler
	now         func() time.Time
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auth := deps.Auth
	if auth == nil {
		auth = middleware.OwnerAuth(nil)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
		analytics:   deps.Analytics,
		baseURL:     strings.TrimRight(deps.BaseURL, "/"),
		auth:        auth,
		now:         now,
	}
}

// Register wires API routes onto the provided router. Auth is attached per
// route so the prefix never captures short codes such as "/linksale".
func (h *APIHandler) Register(router fiber.Router) {
	links := router.Group("/links")
	{
		links.Post("/", h.auth, h.CreateLink)
		links.Get("/", h.auth, h.ListLinks)
		links.Get("/:id", h.auth, h.GetLink)
		links.Patch("/:id", h.auth, h.UpdateLink)
		links.Delete("/:id", h.auth, h.DeleteLink)
		links.Get("/:id/analytics", h.auth, h.GetAnalytics)
		links.Post("/:id/reconcile", h.auth, h.ReconcileLink)
	}
	router.Get("/users/me/stats", h.auth, h.OwnerStats)
}

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	DestinationURL       string     `json:"destinationUrl"`
	Title                string     `json:"title,omitempty"`
	CustomCode           string     `json:"customCode,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	RedirectDelaySeconds int        `json:"redirectDelaySeconds,omitempty"`
	Password             string     `json:"password,omitempty"`
	AdsEnabled           *bool      `json:"adsEnabled,omitempty"`
	InterstitialPages    *int       `json:"interstitialPages,omitempty"`
	Campaign             string     `json:"campaign,omitempty"`
	Tags                 []string   `json:"tags,omitempty"`
}

// UpdateLinkRequest represents the request body for updating a link. Absent
// fields are left unchanged.
type UpdateLinkRequest struct {
	ShortCode            *string    `json:"shortCode,omitempty"`
	DestinationURL       *string    `json:"destinationUrl,omitempty"`
	Title                *string    `json:"title,omitempty"`
	Status               *string    `json:"status,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	ClearExpiry          bool       `json:"clearExpiry,omitempty"`
	RedirectDelaySeconds *int       `json:"redirectDelaySeconds,omitempty"`
	Password             *string    `json:"password,omitempty"`
	AdsEnabled           *bool      `json:"adsEnabled,omitempty"`
	InterstitialPages    *int       `json:"interstitialPages,omitempty"`
	Campaign             *string    `json:"campaign,omitempty"`
	Tags                 *[]string  `json:"tags,omitempty"`
}

// LinkResponse is a link as returned by the API. Status is the effective
// status, so an expired link reports "expired".
type LinkResponse struct {
	*model.Link
	Status            model.LinkStatus `json:"status"`
	ShortURL          string           `json:"shortUrl"`
	PasswordProtected bool             `json:"passwordProtected"`
}

func (h *APIHandler) toResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		Link:              link,
		Status:            link.EffectiveStatus(h.now()),
		ShortURL:          h.baseURL + "/" + link.ShortCode,
		PasswordProtected: link.Settings.HasPassword(),
	}
}

// CreateLink handles POST /links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	link, err := h.linkService.CreateLink(c.UserContext(), middleware.OwnerID(c), service.CreateLinkInput{
		DestinationURL:    req.DestinationURL,
		Title:             req.Title,
		CustomCode:        req.CustomCode,
		ExpiresAt:         req.ExpiresAt,
		RedirectDelay:     req.RedirectDelaySeconds,
		Password:          req.Password,
		AdsEnabled:        req.AdsEnabled,
		InterstitialPages: req.InterstitialPages,
		Campaign:          req.Campaign,
		Tags:              req.Tags,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	h.logger.Debug("link created", zap.String("link_id", link.ID), zap.String("code", link.ShortCode))
	return c.Status(fiber.StatusCreated).JSON(h.toResponse(link))
}

// ListLinks handles GET /links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	links, err := h.linkService.ListLinks(c.UserContext(), middleware.OwnerID(c), limit, offset)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	response := make([]LinkResponse, len(links))
	for i := range links {
		response[i] = h.toResponse(&links[i])
	}
	return c.JSON(fiber.Map{
		"links":  response,
		"limit":  limit,
		"offset": offset,
		"count":  len(response),
	})
}

// GetLink handles GET /links/:id
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	link, err := h.linkService.GetLink(c.UserContext(), middleware.OwnerID(c), linkID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(h.toResponse(link))
}

// UpdateLink handles PATCH /links/:id
func (h *APIHandler) UpdateLink(c *fiber.Ctx) error {
	var req UpdateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	input := service.UpdateLinkInput{
		ShortCode:         req.ShortCode,
		DestinationURL:    req.DestinationURL,
		Title:             req.Title,
		ExpiresAt:         req.ExpiresAt,
		ClearExpiry:       req.ClearExpiry,
		RedirectDelay:     req.RedirectDelaySeconds,
		Password:          req.Password,
		AdsEnabled:        req.AdsEnabled,
		InterstitialPages: req.InterstitialPages,
		Campaign:          req.Campaign,
		Tags:              req.Tags,
	}
	if req.Status != nil {
		status := model.LinkStatus(strings.ToLower(*req.Status))
		input.Status = &status
	}

	link, err := h.linkService.UpdateLink(c.UserContext(), middleware.OwnerID(c), linkID(c), input)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(h.toResponse(link))
}

// DeleteLink handles DELETE /links/:id. Links are deactivated, never removed,
// so their click history survives.
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.linkService.DeleteLink(c.UserContext(), middleware.OwnerID(c), linkID(c)); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetAnalytics handles GET /links/:id/analytics?period=
func (h *APIHandler) GetAnalytics(c *fiber.Ctx) error {
	period, err := model.ParsePeriod(c.Query("period"))
	if err != nil {
		return respondError(c, h.logger, service.ErrInvalidPeriod)
	}

	ctx := c.UserContext()
	link, err := h.linkService.GetLink(ctx, middleware.OwnerID(c), linkID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	report, err := h.analytics.GetStats(ctx, link.ID, period)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(report)
}

// ReconcileLink handles POST /links/:id/reconcile
func (h *APIHandler) ReconcileLink(c *fiber.Ctx) error {
	link, err := h.linkService.ReconcileLink(c.UserContext(), middleware.OwnerID(c), linkID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(h.toResponse(link))
}

// OwnerStats handles GET /users/me/stats
func (h *APIHandler) OwnerStats(c *fiber.Ctx) error {
	stats, err := h.linkService.OwnerStats(c.UserContext(), middleware.OwnerID(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(stats)
}

func linkID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}
