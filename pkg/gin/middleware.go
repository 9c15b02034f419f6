// Package gin adapts the idempotency middleware for the Gin framework.
package gin

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opskit/idempotency"
)

// Middleware returns a gin handler enforcing the duplicate-request protocol
// for every route it is attached to:
//
//	mw := idempotency.New(idempotency.WithNamespace("orders"))
//	r := gin.New()
//	r.POST("/orders", idemgin.Middleware(mw), createOrder)
func Middleware(m *idempotency.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, stored, encodedKey, err := m.Decide(c.Request)
		if errors.Is(err, idempotency.ErrMissingKey) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key required"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency check failed"})
			return
		}
		if decision != idempotency.DecisionProceed {
			m.WriteDecision(c.Writer, decision, stored)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError || len(c.Errors) > 0 {
			m.Abort(c.Request, encodedKey)
			return
		}
		m.Complete(c.Request, encodedKey, &idempotency.Response{
			StatusCode: status,
			Header:     c.Writer.Header().Clone(),
			Body:       bytes.Clone(recorder.body.Bytes()),
		})
	}
}

// bodyRecorder tees the response body so it can be stored for replay.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
