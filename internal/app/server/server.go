package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/linkpay/config"
	"github.com/sifan077/linkpay/internal/app/service"
	"github.com/sifan077/linkpay/internal/http/handler"
	"github.com/sifan077/linkpay/internal/http/middleware"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs from the rest of the process.
type Dependencies struct {
	Logger      *zap.Logger
	Config      *config.Config
	LinkService service.LinkService
	Analytics   handler.StatsReader
	Dispatcher  service.ClickDispatcher
	// Redis backs the rate limiter; nil selects the in-process limiter.
	Redis  *redis.Client
	Secret []byte
	Checks map[string]handler.HealthCheck
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates the HTTP server with middleware and every route registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		AppName:               "linkpay",
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ProxyHeader:           cfg.Server.ProxyHeader,
		DisableStartupMessage: cfg.IsProduction(),
		ErrorHandler:          errorHandler(deps.Logger),
	})

	app.Use(
		middleware.RequestID(),
		middleware.Recovery(deps.Logger),
		middleware.Logger(deps.Logger),
		middleware.CORS(cfg.Server.CORSOrigins),
	)
	if cfg.RateLimit.Enabled {
		app.Use(middleware.RateLimit(deps.Redis, middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
			KeyPrefix:   "ratelimit",
		}, deps.Logger))
	}

	s := &Server{app: app, deps: deps}
	s.registerRoutes()
	return s
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// registerRoutes mounts the API before the redirect handler, whose /:code
// route would otherwise shadow /links and /users.
func (s *Server) registerRoutes() {
	handler.NewAPIHandler(handler.APIDeps{
		Logger:      s.deps.Logger.Named("api"),
		LinkService: s.deps.LinkService,
		Analytics:   s.deps.Analytics,
		BaseURL:     s.deps.Config.Server.BaseURL,
		Auth:        middleware.OwnerAuth([]byte(s.deps.Config.Auth.JWTSecret)),
	}).Register(s.app)

	handler.NewRedirectHandler(handler.RedirectDeps{
		Logger:     s.deps.Logger.Named("redirect"),
		Links:      s.deps.LinkService,
		Dispatcher: s.deps.Dispatcher,
		Secret:     s.deps.Secret,
		Checks:     s.deps.Checks,
	}).Register(s.app)
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		} else {
			logger.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		}
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
