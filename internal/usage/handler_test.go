package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func usageRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "u1")
		c.Next()
	})
	h := NewHandler(svc)
	h.RegisterRoutes(&r.RouterGroup)
	h.RegisterDevRoutes(&r.RouterGroup)
	return r
}

func TestUsageHandlerGetAndReset(t *testing.T) {
	svc := NewService(3)
	if _, err := svc.Consume(context.Background(), "u1", 2); err != nil {
		t.Fatalf("consume: %v", err)
	}
	r := usageRouter(svc)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/usage", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d", resp.Code)
	}
	var body struct {
		Limit     int `json:"limit"`
		Used      int `json:"used"`
		Remaining int `json:"remaining"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Limit != 3 || body.Used != 2 || body.Remaining != 1 {
		t.Fatalf("unexpected usage %+v", body)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/usage/reset", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("reset: %d", resp.Code)
	}
	if u, _ := svc.Get(context.Background(), "u1"); u.Used != 0 {
		t.Fatalf("reset did not clear usage: %+v", u)
	}
}
