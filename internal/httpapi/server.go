// Package httpapi is the front door: the remote backend hands outbound
// messages to the agent through it.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/queue"
)

// Enqueuer is the slice of the delivery queue the API needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
	Len() int
}

// SendRequest is one outbound message submission.
type SendRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
	Text      string `json:"text" validate:"required_without=MediaURL"`
	MediaURL  string `json:"media_url" validate:"omitempty,url"`
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Server wraps the echo front door.
type Server struct {
	echo     *echo.Echo
	enqueuer Enqueuer
	apiKey   string
	log      *logging.Logger
}

func NewServer(enqueuer Enqueuer, apiKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		echo:     e,
		enqueuer: enqueuer,
		apiKey:   apiKey,
		log:      logging.New("front-door"),
	}
	if apiKey == "" {
		s.log.Plain().Warn("API_KEY not set, front door accepts unauthenticated requests")
	}

	e.GET("/healthz", s.health)
	v1 := e.Group("/v1", s.requireAPIKey)
	v1.POST("/messages/send", s.sendMessage)

	return s
}

// requireAPIKey checks the shared key header. An empty configured key leaves
// the endpoint open; that mode is for local development only and is warned
// about at startup.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.apiKey == "" {
			return next(c)
		}
		got := c.Request().Header.Get("X-Api-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

func (s *Server) sendMessage(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	task := queue.Task{
		ID:        req.MessageID,
		Recipient: req.Recipient,
		Text:      req.Text,
		MediaRef:  req.MediaURL,
	}
	if err := s.enqueuer.Enqueue(c.Request().Context(), task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"message_id": req.MessageID,
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "macbridge",
		"queue_depth": s.enqueuer.Len(),
	})
}

func (s *Server) Start(address string) error {
	s.log.Plain().WithField("addr", address).Info("starting front door")
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Plain().Info("shutting down front door")
	return s.echo.Shutdown(ctx)
}
