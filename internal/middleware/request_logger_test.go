package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLoggedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(), RequestLogger())
	r.GET("/queue/:id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})
	return r
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/queue/1", nil)
	req.Header.Set("X-Request-ID", "req-abc")

	w := serve(newLoggedRouter(), req)

	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-abc", w.Body.String())
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"oversized", strings.Repeat("x", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/queue/1", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}

			w := serve(newLoggedRouter(), req)

			id := w.Header().Get("X-Request-ID")
			assert.Len(t, id, 36)
			assert.Equal(t, id, w.Body.String())
		})
	}
}
