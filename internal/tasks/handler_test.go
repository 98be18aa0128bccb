package tasks_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/server/middleware"
	"cv-adapter/internal/tasks"
)

func newRouter(s *tasks.Scheduler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", middleware.Auth("dev", nil))
	tasks.NewHandler(s).RegisterRoutes(api)
	return r
}

func guestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Guest-Id", "guest-1")
	return req
}

func TestTaskHandlerGetAndCancel(t *testing.T) {
	repo := tasks.NewMemoryRepo()
	s := tasks.NewScheduler(repo, 1)
	now := time.Now().UTC()
	if err := repo.Create(context.Background(), tasks.Task{ID: "t1", UserID: "guest:guest-1", Kind: "adapt", DocumentID: "d1", Status: tasks.StatusQueued, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	router := newRouter(s)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, guestRequest(http.MethodGet, "/api/v1/tasks/t1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view tasks.TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != tasks.StatusQueued || view.DocumentID != "d1" || view.Error != nil {
		t.Fatalf("unexpected view %+v", view)
	}

	for i := 0; i < 2; i++ {
		resp = httptest.NewRecorder()
		router.ServeHTTP(resp, guestRequest(http.MethodPost, "/api/v1/tasks/t1/cancel"))
		if resp.Code != http.StatusOK {
			t.Fatalf("cancel #%d: expected 200, got %d", i+1, resp.Code)
		}
		view = tasks.TaskResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if view.Status != tasks.StatusCancelled || view.Error == nil || view.Error.Code != tasks.ErrorCodeCancelled {
			t.Fatalf("unexpected view after cancel %+v", view)
		}
	}
}

func TestTaskHandlerHidesOtherUsersTasks(t *testing.T) {
	repo := tasks.NewMemoryRepo()
	_ = repo.Create(context.Background(), tasks.Task{ID: "t1", UserID: "guest:other", Kind: "adapt", Status: tasks.StatusRunning, CreatedAt: time.Now()})
	router := newRouter(tasks.NewScheduler(repo, 1))

	for _, req := range []*http.Request{
		guestRequest(http.MethodGet, "/api/v1/tasks/t1"),
		guestRequest(http.MethodPost, "/api/v1/tasks/t1/cancel"),
	} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", req.Method, req.URL.Path, resp.Code)
		}
	}
}

func TestTaskHandlerList(t *testing.T) {
	repo := tasks.NewMemoryRepo()
	base := time.Now().UTC()
	_ = repo.Create(context.Background(), tasks.Task{ID: "old", UserID: "guest:guest-1", Kind: "adapt", Status: tasks.StatusFailed, ErrorCode: tasks.ErrorCodeLLMFailed, CreatedAt: base})
	_ = repo.Create(context.Background(), tasks.Task{ID: "new", UserID: "guest:guest-1", Kind: "adapt", Status: tasks.StatusRunning, CreatedAt: base.Add(time.Second)})
	router := newRouter(tasks.NewScheduler(repo, 1))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, guestRequest(http.MethodGet, "/api/v1/tasks"))
	var all []tasks.TaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 || all[0].ID != "new" {
		t.Fatalf("unexpected list %+v", all)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, guestRequest(http.MethodGet, "/api/v1/tasks?status=failed"))
	var failed []tasks.TaskResponse
	_ = json.NewDecoder(resp.Body).Decode(&failed)
	if len(failed) != 1 || failed[0].Error == nil || failed[0].Error.Code != tasks.ErrorCodeLLMFailed {
		t.Fatalf("unexpected filtered list %+v", failed)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, guestRequest(http.MethodGet, "/api/v1/tasks?status=bogus"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
