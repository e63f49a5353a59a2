package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/AndreCAndersen/home2telldus/internal/gateway"
	"github.com/AndreCAndersen/home2telldus/internal/httpapi"
	"github.com/AndreCAndersen/home2telldus/internal/telldus"
	"github.com/AndreCAndersen/home2telldus/internal/telldus/telldustest"
)

type sleeps struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleeps) sleep(d time.Duration) {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
}

type fixture struct {
	remote *telldustest.Server
	sleeps *sleeps
	router http.Handler
}

func newFixture(t *testing.T, server gateway.ServerCredentials, limiter func(context.Context, string) (bool, error)) *fixture {
	t.Helper()
	remote := telldustest.NewServer("server@b.com", "serverpw", telldustest.Device{ID: "42", Name: "Lamp", Online: "1"})
	t.Cleanup(remote.Close)

	sl := &sleeps{}
	svc := gateway.NewService(server, nil,
		telldus.WithEndpoints(remote.Endpoints()),
		telldus.WithSleeper(sl.sleep),
	)
	opts := httpapi.RouterOptions{Tracer: trace.NewTracerProvider().Tracer("test")}
	if limiter != nil {
		opts.Limiter = limiterFunc(limiter)
	}
	return &fixture{remote: remote, sleeps: sl, router: httpapi.NewRouter(httpapi.NewServer(svc), opts)}
}

type limiterFunc func(context.Context, string) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (bool, error) { return f(ctx, key) }

func (f *fixture) do(t *testing.T, method, target, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rw := httptest.NewRecorder()
	f.router.ServeHTTP(rw, req)

	var out map[string]interface{}
	if err := json.NewDecoder(rw.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rw.Code, out
}

var withSecret = gateway.ServerCredentials{Secret: "s1", Email: "server@b.com", Password: "serverpw"}

func TestPostCommand_SecretUsesServerCredentials(t *testing.T) {
	f := newFixture(t, withSecret, nil)

	code, body := f.do(t, http.MethodPost, "/command", `{"secret":"s1","device":"Lamp","command":"on"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %v", code, body)
	}
	if body["message"] != "Command was successfully sent." {
		t.Fatalf("unexpected body %v", body)
	}
	cmds := f.remote.Commands()
	if len(cmds) != 4 {
		t.Fatalf("expected default 4 repeats, got %d", len(cmds))
	}
	for _, q := range cmds {
		if q.Get("id") != "42" || q.Get("method") != "1" {
			t.Fatalf("unexpected command query %v", q)
		}
	}
	if len(f.sleeps.calls) != 3 || f.sleeps.calls[0] != 2*time.Second {
		t.Fatalf("expected 3 sleeps of 2s, got %v", f.sleeps.calls)
	}
}

func TestPostCommand_WrongPassword(t *testing.T) {
	f := newFixture(t, withSecret, nil)

	code, body := f.do(t, http.MethodPost, "/command", `{"email":"a@b.com","password":"wrong","device":"Lamp","command":"on"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
	if body["exception"] != "InvalidEmailOrPasswordError" || body["message"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(f.remote.Commands()) != 0 {
		t.Fatalf("expected no commands after failed login")
	}
}

func TestGetCommand_QueryStringAndNumbers(t *testing.T) {
	f := newFixture(t, withSecret, nil)

	code, body := f.do(t, http.MethodGet, "/command?email=server@b.com&password=serverpw&device=Lamp&command=off&repeat=2&sleep=0.5", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %v", code, body)
	}
	cmds := f.remote.Commands()
	if len(cmds) != 2 || cmds[0].Get("method") != "2" {
		t.Fatalf("unexpected commands %v", cmds)
	}
	if len(f.sleeps.calls) != 1 || f.sleeps.calls[0] != 500*time.Millisecond {
		t.Fatalf("unexpected sleeps %v", f.sleeps.calls)
	}
}

func TestPostCommand_JSONNumbers(t *testing.T) {
	f := newFixture(t, withSecret, nil)

	code, body := f.do(t, http.MethodPost, "/command", `{"secret":"s1","device":"Lamp","command":"on","repeat":1,"sleep":0}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %v", code, body)
	}
	if len(f.remote.Commands()) != 1 || len(f.sleeps.calls) != 0 {
		t.Fatalf("expected 1 request and no sleeps")
	}
}

func TestCommand_Errors(t *testing.T) {
	cases := []struct {
		name      string
		server    gateway.ServerCredentials
		body      string
		status    int
		exception string
	}{
		{"no credentials", withSecret, `{"device":"Lamp","command":"on"}`, http.StatusUnauthorized, "ClientMissingEmailError"},
		{"missing password", withSecret, `{"email":"a@b.com","device":"Lamp","command":"on"}`, http.StatusUnauthorized, "ClientMissingPasswordError"},
		{"wrong secret", withSecret, `{"secret":"x","device":"Lamp","command":"on"}`, http.StatusUnauthorized, "InvalidSecretError"},
		{"server without secret", gateway.ServerCredentials{}, `{"secret":"s1","device":"Lamp","command":"on"}`, http.StatusInternalServerError, "ServerHasNoSecretError"},
		{"server without email", gateway.ServerCredentials{Secret: "s1"}, `{"secret":"s1","device":"Lamp","command":"on"}`, http.StatusInternalServerError, "ServerMissingEmailError"},
		{"server without password", gateway.ServerCredentials{Secret: "s1", Email: "server@b.com"}, `{"secret":"s1","device":"Lamp","command":"on"}`, http.StatusInternalServerError, "ServerMissingPasswordError"},
		{"missing device", withSecret, `{"secret":"s1","command":"on"}`, http.StatusBadRequest, "ClientMissingDeviceError"},
		{"missing command", withSecret, `{"secret":"s1","device":"Lamp"}`, http.StatusBadRequest, "ClientMissingCommandError"},
		{"repeat not a number", withSecret, `{"secret":"s1","device":"Lamp","command":"on","repeat":"many"}`, http.StatusBadRequest, "NotANumberError"},
		{"repeat out of range", withSecret, `{"secret":"s1","device":"Lamp","command":"on","repeat":9}`, http.StatusBadRequest, "InvalidNumberError"},
		{"sleep out of range", withSecret, `{"secret":"s1","device":"Lamp","command":"on","sleep":3}`, http.StatusBadRequest, "InvalidNumberError"},
		{"unknown device", withSecret, `{"secret":"s1","device":"Garage","command":"on"}`, http.StatusBadRequest, "UnknownDeviceError"},
		{"unknown command", withSecret, `{"secret":"s1","device":"Lamp","command":"dim"}`, http.StatusBadRequest, "UnknownCommandError"},
		{"not an object", withSecret, `["secret"]`, http.StatusBadRequest, "BadRequestError"},
		{"nested value", withSecret, `{"secret":"s1","device":{"name":"Lamp"},"command":"on"}`, http.StatusBadRequest, "BadRequestError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.server, nil)
			code, body := f.do(t, http.MethodPost, "/command", tc.body)
			if code != tc.status {
				t.Fatalf("expected %d got %d: %v", tc.status, code, body)
			}
			if body["exception"] != tc.exception {
				t.Fatalf("expected %s got %v", tc.exception, body["exception"])
			}
			if len(f.remote.Commands()) != 0 {
				t.Fatalf("expected no commands to be dispatched")
			}
		})
	}
}

func TestCommand_NumberErrorsNameTheArgument(t *testing.T) {
	f := newFixture(t, withSecret, nil)
	_, body := f.do(t, http.MethodGet, "/command?secret=s1&device=Lamp&command=on&sleep=later", "")
	if body["exception"] != "NotANumberError" || body["argument"] != "sleep" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDevices(t *testing.T) {
	f := newFixture(t, withSecret, nil)

	code, body := f.do(t, http.MethodGet, "/devices?secret=s1", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %v", code, body)
	}
	devices, ok := body["devices"].([]interface{})
	if !ok || len(devices) != 1 {
		t.Fatalf("unexpected devices %v", body["devices"])
	}
	d := devices[0].(map[string]interface{})
	if d["name"] != "Lamp" || d["id"] != "42" || d["online"] != true {
		t.Fatalf("unexpected device %v", d)
	}

	code, body = f.do(t, http.MethodPost, "/devices", `{}`)
	if code != http.StatusUnauthorized || body["exception"] != "ClientMissingEmailError" {
		t.Fatalf("expected ClientMissingEmailError, got %d %v", code, body)
	}
}

func TestRateLimited(t *testing.T) {
	var keys []string
	f := newFixture(t, withSecret, func(_ context.Context, key string) (bool, error) {
		keys = append(keys, key)
		return false, nil
	})

	code, body := f.do(t, http.MethodPost, "/command", `{"secret":"s1","device":"Lamp","command":"on"}`)
	if code != http.StatusTooManyRequests || body["exception"] != "RateLimitedError" {
		t.Fatalf("expected 429 RateLimitedError, got %d %v", code, body)
	}
	if len(keys) != 1 {
		t.Fatalf("expected limiter to be consulted once, got %v", keys)
	}

	code, _ = f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", code)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	f := newFixture(t, withSecret, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rw := httptest.NewRecorder()
	f.router.ServeHTTP(rw, req)
	if rw.Header().Get("X-Correlation-ID") != "abc-123" {
		t.Fatalf("expected correlation id to be echoed, got %q", rw.Header().Get("X-Correlation-ID"))
	}

	rw = httptest.NewRecorder()
	f.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rw.Header().Get("X-Correlation-ID") == "" {
		t.Fatalf("expected a generated correlation id")
	}
}
