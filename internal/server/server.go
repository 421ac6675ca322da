// Package server serves the survey form, the JSON prediction API and the
// operational endpoints over echo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"heart-risk-predictor/internal/common/config"
	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/features"
	"heart-risk-predictor/internal/models"
	"heart-risk-predictor/internal/predictor"
)

const maxMultipartMemory = 1 << 20

// Predictor is the part of *predictor.Service the handlers use.
type Predictor interface {
	PredictForm(ctx context.Context, form url.Values) (*models.PredictionResult, error)
	PredictValues(ctx context.Context, source string, values map[string]interface{}) (*models.PredictionResult, error)
	Schema() predictor.SchemaDescription
	Fields() []features.Field
	ModelVersion() string
}

// Check reports whether a dependency is reachable.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators of the Server. Redis and Checks are optional.
type Deps struct {
	Predictor Predictor
	Redis     redis.Scripter
	Checks    []Check
}

type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	predictor  Predictor
	checks     []Check
	logger     logger.Logger
}

func New(cfg *config.Config, deps Deps, log logger.Logger) (*Server, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = apperrors.NewHTTPErrorHandler(log)

	s := &Server{
		echo:      e,
		predictor: deps.Predictor,
		checks:    deps.Checks,
		logger:    log,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(predictor.WithRequestID(c.Request().Context(), id)))
		},
	}))
	e.Use(requestLogger(log))
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	limit := RateLimit(cfg.RateLimit, deps.Redis, log)

	e.GET("/", s.handleForm)
	e.POST("/predict", s.handlePredictForm, limit)
	e.StaticFS("/static", staticFiles())

	api := e.Group("/api/v1")
	api.POST("/predict", s.handlePredictAPI, limit)
	api.GET("/schema", s.handleSchema)

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      otelhttp.NewHandler(e, "http.server"),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	return s, nil
}

// Handler returns the routed handler without the tracing wrapper.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"address": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/healthz", "/readyz", "/metrics":
				return true
			}
			return false
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := map[string]interface{}{
				"method":    v.Method,
				"uri":       v.URI,
				"status":    v.Status,
				"latencyMs": float64(v.Latency.Microseconds()) / 1000,
				"requestId": v.RequestID,
				"remoteIp":  v.RemoteIP,
			}
			if v.Error != nil {
				fields["error"] = v.Error.Error()
			}
			if v.Status >= http.StatusInternalServerError {
				log.Error("Request completed", fields)
			} else {
				log.Info("Request completed", fields)
			}
			return nil
		},
	})
}

type formPage struct {
	ModelVersion string
	Fields       []features.Field
}

func (s *Server) handleForm(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", formPage{
		ModelVersion: s.predictor.ModelVersion(),
		Fields:       s.predictor.Fields(),
	})
}

// handlePredictForm reads fields from the request body only. Query
// parameters never fill in a field the body left out.
func (s *Server) handlePredictForm(c echo.Context) error {
	form, err := postForm(c.Request())
	if err != nil {
		return apperrors.NewMalformedBodyError(err)
	}

	result, err := s.predictor.PredictForm(c.Request().Context(), form)
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "result.html", result)
}

func postForm(r *http.Request) (url.Values, error) {
	if strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.PostForm, nil
}

func (s *Server) handlePredictAPI(c echo.Context) error {
	var body map[string]interface{}
	if err := c.Bind(&body); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Internal != nil {
			err = he.Internal
		}
		return apperrors.NewMalformedBodyError(err)
	}
	if body == nil {
		return apperrors.NewMalformedBodyError(errors.New("request body must be a JSON object"))
	}

	result, err := s.predictor.PredictValues(c.Request().Context(), metrics.SourceAPI, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, s.predictor.Schema())
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	return c.JSON(status, map[string]interface{}{
		"status":       state,
		"modelVersion": s.predictor.ModelVersion(),
		"checks":       results,
	})
}
