package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lei/cross-ci/internal/build"
	"github.com/lei/cross-ci/internal/config"
	"github.com/lei/cross-ci/internal/models"
	"github.com/lei/cross-ci/internal/orchestrator"
	"github.com/lei/cross-ci/internal/service"
	"github.com/lei/cross-ci/internal/trigger"
	"github.com/lei/cross-ci/pkg/logger"
)

const testAPIKey = "test-key-12345"

// newTestServer wires the full stack over a mock command executor, so
// handler behavior is exercised end to end without a docker daemon.
func newTestServer(t *testing.T) (http.Handler, *service.Service) {
	return newTestServerWithExecutor(t, build.NewMockCommandExecutor())
}

func newTestServerWithExecutor(t *testing.T, exec *build.MockCommandExecutor) (http.Handler, *service.Service) {
	t.Helper()

	native, err := build.NewNativeDriver(build.NativeDriverConfig{
		Image:           "crossci/native",
		CommandExecutor: exec,
	})
	if err != nil {
		t.Fatalf("NewNativeDriver() error = %v", err)
	}
	cross, err := build.NewCrossDriver(build.CrossDriverConfig{
		Builder:         "crossci-builder",
		CommandExecutor: exec,
	})
	if err != nil {
		t.Fatalf("NewCrossDriver() error = %v", err)
	}
	bootstrap := build.NewBootstrapper(build.BootstrapperConfig{
		HostArch:        "amd64",
		CommandExecutor: exec,
	})

	store := service.NewRunStore()
	orch := orchestrator.New(
		trigger.New("main"),
		build.NewTagGenerator(),
		native, cross, bootstrap, store,
		orchestrator.Config{
			NativeRecipe: "docker/Dockerfile.native",
			CrossRecipe:  "docker/Dockerfile.cross",
			ForeignArch:  "arm64",
		},
		nil,
	)
	svc := service.NewService(orch, store, exec, nil)

	handlers := NewHandlers(svc)
	auth := NewAuthMiddleware([]config.APIKey{{Name: "test", Key: testAPIKey}})
	logging := NewLoggingMiddleware(logger.NewNop())
	return NewRouter(handlers, auth, logging), svc
}

func doRequest(router http.Handler, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if authorized {
		r.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestHealth_NoAuthRequired(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "GET", "/health", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	var health map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("invalid health JSON: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("health status = %v, want healthy", health["status"])
	}
}

func TestSubmitEvent_RequiresAuth(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "POST", "/v1/events", `{"event":"push","branch":"main"}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated POST /v1/events status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestSubmitEvent_QualifyingEventStartsRun(t *testing.T) {
	router, svc := newTestServer(t)

	w := doRequest(router, "POST", "/v1/events", `{"event":"push","branch":"main","commit":"8f3c2d1"}`, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/events status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp struct {
		Run *models.Run `json:"run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Run == nil || resp.Run.RunID == "" {
		t.Fatal("response must carry the created run")
	}

	svc.Wait()

	w = doRequest(router, "GET", "/v1/runs/"+resp.Run.RunID, "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("GET run status = %d, want %d", w.Code, http.StatusOK)
	}
	var got struct {
		Run *models.Run `json:"run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid run JSON: %v", err)
	}
	if got.Run.State != models.StateDone {
		t.Errorf("run state = %q, want %q", got.Run.State, models.StateDone)
	}
	if got.Run.Result != models.ResultSuccess {
		t.Errorf("run result = %q, want %q", got.Run.Result, models.ResultSuccess)
	}
}

func TestSubmitEvent_NonQualifyingEventIsIgnored(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "POST", "/v1/events", `{"event":"push","branch":"feature/arm"}`, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/events status = %d, want %d", w.Code, http.StatusAccepted)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["ignored"] != true {
		t.Errorf("response = %v, want ignored", resp)
	}

	// No run may exist for the ignored event.
	w = doRequest(router, "GET", "/v1/runs", "", true)
	var list struct {
		Runs []*models.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list JSON: %v", err)
	}
	if len(list.Runs) != 0 {
		t.Errorf("store holds %d runs after ignored event, want 0", len(list.Runs))
	}
}

func TestSubmitEvent_BadRequests(t *testing.T) {
	router, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"event":`},
		{"unknown event kind", `{"event":"tag","branch":"main"}`},
		{"missing branch", `{"event":"push"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/v1/events", tt.body, true)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "GET", "/v1/runs/no-such-run", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCancelRun_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "POST", "/v1/runs/no-such-run/cancel", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStreamEvents_ClosesAtTerminalState(t *testing.T) {
	router, svc := newTestServer(t)

	w := doRequest(router, "POST", "/v1/events", `{"event":"push","branch":"main"}`, true)
	var resp struct {
		Run *models.Run `json:"run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	svc.Wait()

	// The handler must return on its own once the run is done, so the
	// recorded body is the complete stream.
	w = doRequest(router, "GET", "/v1/runs/"+resp.Run.RunID+"/events", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("stream status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"event: connected", "event: status", "event: done"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
	if !strings.Contains(body, `{"result":"success"}`) {
		t.Errorf("done event missing the run result:\n%s", body)
	}
}

func TestStreamEvents_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	w := doRequest(router, "GET", "/v1/runs/no-such-run/events", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStreamEvents_OutlivesServerWriteTimeout(t *testing.T) {
	release := make(chan struct{})
	exec := build.NewMockCommandExecutor()
	exec.SetExecuteFunc(func(ctx context.Context, opts build.CommandOptions, name string, args ...string) error {
		// Hold the native build open past the server write timeout.
		if len(args) > 0 && args[0] == "build" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
			}
		}
		return nil
	})
	router, svc := newTestServerWithExecutor(t, exec)

	srv := httptest.NewUnstartedServer(router)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()
	defer svc.Wait()

	req, err := http.NewRequest("POST", srv.URL+"/v1/events", strings.NewReader(`{"event":"push","branch":"main"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /v1/events: %v", err)
	}
	var created struct {
		Run *models.Run `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	resp.Body.Close()

	time.AfterFunc(300*time.Millisecond, func() { close(release) })

	req, err = http.NewRequest("GET", srv.URL+"/v1/runs/"+created.Run.RunID+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	// Reading to EOF only succeeds if the connection survived past the
	// write timeout until the run settled.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("stream severed before the run settled: %v", err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("stream missing the terminal event:\n%s", body)
	}
}

func TestListRuns_FilterByBranch(t *testing.T) {
	router, svc := newTestServer(t)

	doRequest(router, "POST", "/v1/events", `{"event":"push","branch":"main"}`, true)
	svc.Wait()

	w := doRequest(router, "GET", "/v1/runs?branch=main", "", true)
	var list struct {
		Runs []*models.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list JSON: %v", err)
	}
	if len(list.Runs) != 1 {
		t.Errorf("branch=main returned %d runs, want 1", len(list.Runs))
	}

	w = doRequest(router, "GET", "/v1/runs?branch=develop", "", true)
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list JSON: %v", err)
	}
	if len(list.Runs) != 0 {
		t.Errorf("branch=develop returned %d runs, want 0", len(list.Runs))
	}
}
