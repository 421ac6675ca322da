package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrorTemplate is the template rendered for HTML clients.
const ErrorTemplate = "error.html"

// ErrorPage is the view model handed to ErrorTemplate.
type ErrorPage struct {
	Status int
	Error  *StandardError
	Fields []FieldError
}

// FromHTTPError converts echo's transport errors (404, 405, 413, ...) into
// StandardErrors so every response shares one shape.
func FromHTTPError(he *echo.HTTPError) *StandardError {
	code := ErrCodeBadRequest
	switch he.Code {
	case http.StatusNotFound:
		code = ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		code = ErrCodeMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		code = ErrCodePayloadTooLarge
	case http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	default:
		if he.Code >= http.StatusInternalServerError {
			code = ErrCodeInternal
		}
	}

	return &StandardError{
		Code:      code,
		Message:   http.StatusText(he.Code),
		Details:   fmt.Sprint(he.Message),
		Retryable: code == ErrCodeRateLimited,
		Timestamp: time.Now().UTC(),
	}
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that renders JSON
// for API routes and JSON-accepting clients, and the error page otherwise.
func NewHTTPErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var stdErr *StandardError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &stdErr):
		case errors.As(err, &he):
			stdErr = FromHTTPError(he)
		default:
			stdErr = NewInternalError(err)
		}

		status := HTTPStatus(stdErr.Code)
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed", map[string]interface{}{
				"path":      c.Request().URL.Path,
				"method":    c.Request().Method,
				"errorCode": string(stdErr.Code),
				"details":   stdErr.Details,
			})
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}

		if wantsJSON(c) {
			_ = c.JSON(status, map[string]interface{}{"error": stdErr})
			return
		}

		page := ErrorPage{Status: status, Error: stdErr, Fields: FieldErrors(stdErr)}
		if renderErr := c.Render(status, ErrorTemplate, page); renderErr != nil {
			_ = c.String(status, stdErr.Message)
		}
	}
}

func wantsJSON(c echo.Context) bool {
	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		return true
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}
