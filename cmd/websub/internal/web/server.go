package web

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"tubebrew.dev/websub/cmd/websub/handlers/websub_api"
	"tubebrew.dev/websub/internal/db"
)

type Webserver struct {
	*echo.Echo
	dbc *db.DatabaseConnection
}

func NewWebserver(dbc *db.DatabaseConnection) (*Webserver, error) {
	e := echo.New()

	webserver := &Webserver{
		Echo: e,
		dbc:  dbc,
	}

	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

func (s *Webserver) registerRoutes() error {
	queries := db.New(s.dbc)

	// The hub calls GET for verification and POST for content delivery on
	// the same callback URL.
	s.GET("/websub/callback", websub_api.HandleVerify(queries))
	s.POST("/websub/callback", websub_api.HandleNotify(queries, queries))

	s.GET("/websub/status", websub_api.HandleStatus(queries))

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})

	return nil
}
