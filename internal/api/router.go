package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// Guard admits only authentic requests.
type Guard interface {
	RequireAuth(next http.Handler) http.Handler
}

// RouterOptions tunes the HTTP surface.
type RouterOptions struct {
	// MaxContentLength caps request bodies in bytes. Zero means no cap.
	MaxContentLength int64
	// Version is substituted into the served OpenAPI document.
	Version string
	// MCP, when set, is served under /mcp/ behind the same guard as
	// notifications.
	MCP http.Handler
}

// NewRouter mounts every route on a new echo instance. Notifications
// pass through guard before reaching the handler.
func NewRouter(h *Handler, guard Guard, opts RouterOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echo.WrapMiddleware(ServerHeader))
	e.Use(otelecho.Middleware("lira"))
	if opts.MaxContentLength > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(opts.MaxContentLength, 10)))
	}

	e.GET("/health", echo.WrapHandler(http.HandlerFunc(h.HandleHealth)))
	e.GET("/version", echo.WrapHandler(http.HandlerFunc(h.HandleVersion)))
	e.POST("/notifications", h.PostNotification, echo.WrapMiddleware(guard.RequireAuth))

	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(opts.Version)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler()))

	if opts.MCP != nil {
		e.Any("/mcp/*", echo.WrapHandler(opts.MCP), echo.WrapMiddleware(guard.RequireAuth))
	}

	return e
}
