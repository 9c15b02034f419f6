package echo

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/opskit/idempotency"
)

func newServer(mw *idempotency.Middleware, calls *int) *echo.Echo {
	e := echo.New()
	e.POST("/orders", func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusCreated, map[string]int{"id": 1})
	}, Middleware(mw))
	return e
}

func post(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	if key != "" {
		req.Header.Set(idempotency.DefaultHeader, key)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestMiddleware_MissingKey(t *testing.T) {
	calls := 0
	e := newServer(idempotency.New(), &calls)

	w := post(e, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, calls)
}

func TestMiddleware_Duplicate(t *testing.T) {
	calls := 0
	e := newServer(idempotency.New(), &calls)
	key := idempotency.NewKey()

	w := post(e, key)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = post(e, key)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, calls)
}

func TestMiddleware_Replay(t *testing.T) {
	calls := 0
	e := newServer(idempotency.New(idempotency.WithStoredResponseReplay()), &calls)
	key := idempotency.NewKey()

	post(e, key)
	w := post(e, key)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
	assert.Equal(t, 1, calls)
}
