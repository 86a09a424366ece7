package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/service"
	httpUtil "github.com/sifan077/linkpay/internal/http/util"
	"github.com/sifan077/linkpay/internal/http/view"
	"go.uber.org/zap"
)

const (
	tokenTTL           = 10 * time.Minute
	healthCheckTimeout = 2 * time.Second

	// LinkPasswordHeader carries a link password for non-browser clients.
	LinkPasswordHeader = "X-Link-Password"
)

// LinkResolver finds the link a visitor may follow.
type LinkResolver interface {
	Resolve(ctx context.Context, code string) (*model.Link, error)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger     *zap.Logger
	Links      LinkResolver
	Dispatcher service.ClickDispatcher
	Secret     []byte
	Checks     map[string]HealthCheck
	Now        func() time.Time
}

// RedirectHandler implements visitor resolution, the interstitial and health.
type RedirectHandler struct {
	logger     *zap.Logger
	links      LinkResolver
	dispatcher service.ClickDispatcher
	tokens     *httpUtil.TokenSigner
	checks     map[string]HealthCheck
	now        func() time.Time
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RedirectHandler{
		logger:     logger,
		links:      deps.Links,
		dispatcher: deps.Dispatcher,
		tokens:     httpUtil.NewTokenSigner(deps.Secret, tokenTTL),
		checks:     deps.Checks,
		now:        now,
	}
}

// Register wires redirect routes onto the provided router. It must run after
// every fixed-path route, since /:code matches any single segment.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/:code", h.Resolve)
	router.Post("/:code", h.Resolve)
	router.Get("/:code/_go/:token", h.Continue)
}

// Health reports the service and the reachability of each dependency.
func (h *RedirectHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	status := fiber.StatusOK
	checks := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"service": "linkpay",
		"status":  state,
		"checks":  checks,
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

// Resolve handles GET and POST /:code. The click is recorded once the link
// resolves and any password verifies; then the visitor is redirected or shown
// the first interstitial page. Passwords come from the X-Link-Password header
// or a posted form, never the query string.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := utils.CopyString(c.Params("code"))

	link, err := h.links.Resolve(c.UserContext(), code)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if err := service.VerifyLinkPassword(link, linkPassword(c)); err != nil {
		if wantsHTML(c) {
			return h.renderPasswordForm(c, link, errors.Is(err, service.ErrInvalidPassword))
		}
		return respondError(c, h.logger, err)
	}

	h.dispatchClick(c, link)

	if !needsInterstitial(link) {
		status := fiber.StatusFound
		if c.Method() == fiber.MethodPost {
			status = fiber.StatusSeeOther
		}
		return c.Redirect(link.DestinationURL, status)
	}
	return h.renderPage(c, link, 1)
}

// Continue handles GET /:code/_go/:token, advancing through the interstitial
// pages and finally redirecting.
func (h *RedirectHandler) Continue(c *fiber.Ctx) error {
	code := utils.CopyString(c.Params("code"))

	page, err := h.tokens.Validate(code, c.Params("token"))
	if err != nil {
		if errors.Is(err, httpUtil.ErrInvalidToken) {
			return respondError(c, h.logger, err)
		}
		return respondError(c, h.logger, fmt.Errorf("validate continue token: %w", err))
	}

	link, err := h.links.Resolve(c.UserContext(), code)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	if page < interstitialPages(link) {
		return h.renderPage(c, link, page+1)
	}
	h.logger.Debug("final redirect", zap.String("code", code), zap.String("target", link.DestinationURL))
	return c.Redirect(link.DestinationURL, fiber.StatusFound)
}

func (h *RedirectHandler) renderPage(c *fiber.Ctx, link *model.Link, page int) error {
	token, err := h.tokens.Issue(link.ShortCode, page)
	if err != nil {
		return respondError(c, h.logger, fmt.Errorf("issue continue token: %w", err))
	}

	html, err := view.RenderInterstitial(view.InterstitialData{
		Title:        link.Title,
		Code:         link.ShortCode,
		TargetURL:    link.DestinationURL,
		ContinueURL:  fmt.Sprintf("/%s/_go/%s", link.ShortCode, token),
		DelaySeconds: link.Settings.RedirectDelay,
		ShowAds:      link.Settings.AdsEnabled,
		Page:         page,
		Pages:        interstitialPages(link),
	})
	if err != nil {
		return respondError(c, h.logger, fmt.Errorf("render interstitial: %w", err))
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Type("html", "utf-8").SendString(html)
}

func (h *RedirectHandler) renderPasswordForm(c *fiber.Ctx, link *model.Link, failed bool) error {
	html, err := view.RenderPasswordForm(view.PasswordData{Title: link.Title, Code: link.ShortCode, Failed: failed})
	if err != nil {
		return respondError(c, h.logger, fmt.Errorf("render password form: %w", err))
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusUnauthorized).Type("html", "utf-8").SendString(html)
}

func linkPassword(c *fiber.Ctx) string {
	if pw := c.Get(LinkPasswordHeader); pw != "" {
		return pw
	}
	if c.Method() == fiber.MethodPost {
		return c.FormValue("password")
	}
	return ""
}

func wantsHTML(c *fiber.Ctx) bool {
	return c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextHTML) == fiber.MIMETextHTML
}

// dispatchClick copies everything it needs out of the request, since fiber
// reuses request buffers once the handler returns.
func (h *RedirectHandler) dispatchClick(c *fiber.Ctx, link *model.Link) {
	if h.dispatcher == nil {
		return
	}
	input := model.ClickInput{
		EventID:        model.NewClickID(),
		LinkID:         link.ID,
		IP:             utils.CopyString(c.IP()),
		UserAgent:      utils.CopyString(c.Get(fiber.HeaderUserAgent)),
		Referer:        utils.CopyString(c.Get(fiber.HeaderReferer)),
		AcceptLanguage: utils.CopyString(c.Get(fiber.HeaderAcceptLanguage)),
		OccurredAt:     h.now().UTC(),
	}
	if err := h.dispatcher.Dispatch(c.UserContext(), input); err != nil {
		h.logger.Warn("failed to dispatch click",
			zap.String("link_id", link.ID),
			zap.String("event_id", input.EventID),
			zap.Error(err))
	}
}

func needsInterstitial(link *model.Link) bool {
	return link.Settings.AdsEnabled || link.Settings.RedirectDelay > 0
}

func interstitialPages(link *model.Link) int {
	return max(1, link.Settings.InterstitialPages)
}
