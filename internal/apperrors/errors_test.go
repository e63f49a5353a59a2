package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_IncludesKindAndFields(t *testing.T) {
	rw := httptest.NewRecorder()
	WriteError(rw, InvalidNumber("repeat"))

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected %d got %d", http.StatusBadRequest, rw.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rw.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["exception"] != "InvalidNumberError" {
		t.Fatalf("unexpected exception %v", body["exception"])
	}
	if body["argument"] != "repeat" {
		t.Fatalf("unexpected argument %v", body["argument"])
	}
	if body["message"] == "" {
		t.Fatalf("expected message")
	}
}

func TestWriteError_RateLimitedSetsRetryAfter(t *testing.T) {
	rw := httptest.NewRecorder()
	WriteError(rw, RateLimited())
	if rw.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rw.Code)
	}
	if rw.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("running command: %w", UnknownDevice())
	if KindOf(err) != KindUnknownDevice {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if !errors.Is(err, UnknownDevice()) {
		t.Fatalf("expected errors.Is to match by kind")
	}
	if errors.Is(err, UnknownCommand()) {
		t.Fatalf("did not expect UnknownCommand to match")
	}
}

func TestFrom_UnknownErrorIsInternal(t *testing.T) {
	ae := From(errors.New("boom"))
	if ae.Code != http.StatusInternalServerError || ae.Kind != KindInternal {
		t.Fatalf("unexpected mapping %d %s", ae.Code, ae.Kind)
	}
}

func TestStatusTable(t *testing.T) {
	cases := []struct {
		err  *AppError
		code int
	}{
		{ClientMissingEmail(), http.StatusUnauthorized},
		{ClientMissingPassword(), http.StatusUnauthorized},
		{ClientMissingDevice(), http.StatusBadRequest},
		{ClientMissingCommand(), http.StatusBadRequest},
		{InvalidSecret(), http.StatusUnauthorized},
		{ServerHasNoSecret(), http.StatusInternalServerError},
		{ServerMissingEmail(), http.StatusInternalServerError},
		{ServerMissingPassword(), http.StatusInternalServerError},
		{InvalidEmailOrPassword(), http.StatusBadRequest},
		{NotANumber("sleep"), http.StatusBadRequest},
		{UnknownDevice(), http.StatusBadRequest},
		{UnknownCommand(), http.StatusBadRequest},
		{RemoteRequestFailed(errors.New("x")), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind), func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Fatalf("expected %d got %d", tc.code, tc.err.Code)
			}
		})
	}
}
