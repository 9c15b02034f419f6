// Package echo adapts the idempotency middleware for the Echo framework.
package echo

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opskit/idempotency"
)

// Middleware returns an echo middleware enforcing the duplicate-request
// protocol:
//
//	mw := idempotency.New(idempotency.WithNamespace("orders"))
//	e := echo.New()
//	e.POST("/orders", createOrder, idemecho.Middleware(mw))
func Middleware(m *idempotency.Middleware) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision, stored, encodedKey, err := m.Decide(c.Request())
			if errors.Is(err, idempotency.ErrMissingKey) {
				return echo.NewHTTPError(http.StatusBadRequest, "idempotency key required")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "idempotency check failed")
			}
			if decision != idempotency.DecisionProceed {
				m.WriteDecision(c.Response(), decision, stored)
				return nil
			}

			// Tee the body through the response writer, same trick as echo's
			// own BodyDump middleware.
			var body bytes.Buffer
			writer := &bodyRecorder{
				Writer:         io.MultiWriter(c.Response().Writer, &body),
				ResponseWriter: c.Response().Writer,
			}
			c.Response().Writer = writer

			if err := next(c); err != nil {
				m.Abort(c.Request(), encodedKey)
				return err
			}
			status := c.Response().Status
			if status >= http.StatusInternalServerError {
				m.Abort(c.Request(), encodedKey)
				return nil
			}
			m.Complete(c.Request(), encodedKey, &idempotency.Response{
				StatusCode: status,
				Header:     c.Response().Header().Clone(),
				Body:       bytes.Clone(body.Bytes()),
			})
			return nil
		}
	}
}

type bodyRecorder struct {
	io.Writer
	http.ResponseWriter
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}
