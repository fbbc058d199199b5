package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/lineci/lineci/internal"
)

func TestMiddleware_WebhookKey(t *testing.T) {
	next := func(c echo.Context) error {
		return c.String(http.StatusOK, "triggered")
	}

	t.Run("success - valid key passes through", func(t *testing.T) {
		// arrange
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(internal.WebhookTriggerKeyHeader, "sekrit")
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)
		h := WebhookKeyMiddleware("sekrit")(next)

		// act
		err := h(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "triggered", rec.Body.String())
	})
	t.Run("failure - wrong key rejected", func(t *testing.T) {
		// arrange
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(internal.WebhookTriggerKeyHeader, "guess")
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)
		h := WebhookKeyMiddleware("sekrit")(next)

		// act
		err := h(c)

		// assert
		var httpErr *echo.HTTPError
		assert.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})
	t.Run("failure - missing key rejected", func(t *testing.T) {
		// arrange
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)
		h := WebhookKeyMiddleware("sekrit")(next)

		// act
		err := h(c)

		// assert
		var httpErr *echo.HTTPError
		assert.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})
	t.Run("failure - unconfigured key disables the route", func(t *testing.T) {
		// arrange
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(internal.WebhookTriggerKeyHeader, "")
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)
		h := WebhookKeyMiddleware("")(next)

		// act
		err := h(c)

		// assert
		var httpErr *echo.HTTPError
		assert.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusForbidden, httpErr.Code)
	})
}
