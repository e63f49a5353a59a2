package gateway

import (
	"testing"
	"time"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
	"github.com/AndreCAndersen/home2telldus/internal/telldus"
)

var configured = ServerCredentials{Secret: "s1", Email: "server@b.com", Password: "serverpw"}

func TestResolveCredentials(t *testing.T) {
	cases := []struct {
		name   string
		args   Args
		server ServerCredentials
		want   telldus.Credentials
		kind   apperrors.Kind
	}{
		{"neither", Args{}, configured, telldus.Credentials{}, apperrors.KindClientMissingEmail},
		{"secret ok", Args{"secret": "s1"}, configured, telldus.Credentials{Email: "server@b.com", Password: "serverpw"}, ""},
		{"secret wins over email", Args{"secret": "s1", "email": "a@b.com", "password": "pw"}, configured, telldus.Credentials{Email: "server@b.com", Password: "serverpw"}, ""},
		{"server has no secret", Args{"secret": "s1"}, ServerCredentials{Email: "x", Password: "y"}, telldus.Credentials{}, apperrors.KindServerHasNoSecret},
		{"wrong secret", Args{"secret": "nope"}, configured, telldus.Credentials{}, apperrors.KindInvalidSecret},
		{"server missing email", Args{"secret": "s1"}, ServerCredentials{Secret: "s1", Password: "y"}, telldus.Credentials{}, apperrors.KindServerMissingEmail},
		{"server missing password", Args{"secret": "s1"}, ServerCredentials{Secret: "s1", Email: "x"}, telldus.Credentials{}, apperrors.KindServerMissingPassword},
		{"direct ok", Args{"email": "a@b.com", "password": "pw"}, ServerCredentials{}, telldus.Credentials{Email: "a@b.com", Password: "pw"}, ""},
		{"direct missing email", Args{"password": "pw"}, configured, telldus.Credentials{}, apperrors.KindClientMissingEmail},
		{"direct missing password", Args{"email": "a@b.com"}, configured, telldus.Credentials{}, apperrors.KindClientMissingPassword},
		{"empty secret falls back to direct", Args{"secret": " ", "email": "a@b.com", "password": "pw"}, configured, telldus.Credentials{Email: "a@b.com", Password: "pw"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveCredentials(tc.args, tc.server)
			if tc.kind != "" {
				if apperrors.KindOf(err) != tc.kind {
					t.Fatalf("expected %s got %v", tc.kind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestParseRepeat(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		kind apperrors.Kind
	}{
		{"", DefaultRepeat, ""},
		{"1", 1, ""},
		{"8", 8, ""},
		{"0", 0, apperrors.KindInvalidNumber},
		{"9", 0, apperrors.KindInvalidNumber},
		{"-3", 0, apperrors.KindInvalidNumber},
		{"abc", 0, apperrors.KindNotANumber},
		{"1.5", 0, apperrors.KindNotANumber},
	}
	for _, tc := range cases {
		t.Run("repeat="+tc.raw, func(t *testing.T) {
			got, err := ParseRepeat(Args{"repeat": tc.raw})
			if tc.kind != "" {
				if apperrors.KindOf(err) != tc.kind {
					t.Fatalf("expected %s got %v", tc.kind, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %d, %v want %d", got, err, tc.want)
			}
		})
	}
}

func TestParseSleep(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		kind apperrors.Kind
	}{
		{"", 2 * time.Second, ""},
		{"0", 0, ""},
		{"0.5", 500 * time.Millisecond, ""},
		{"2", 2 * time.Second, ""},
		{"2.01", 0, apperrors.KindInvalidNumber},
		{"-0.1", 0, apperrors.KindInvalidNumber},
		{"NaN", 0, apperrors.KindInvalidNumber},
		{"soon", 0, apperrors.KindNotANumber},
	}
	for _, tc := range cases {
		t.Run("sleep="+tc.raw, func(t *testing.T) {
			got, err := ParseSleep(Args{"sleep": tc.raw})
			if tc.kind != "" {
				if apperrors.KindOf(err) != tc.kind {
					t.Fatalf("expected %s got %v", tc.kind, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %v, %v want %v", got, err, tc.want)
			}
		})
	}
}

func TestResolve_Order(t *testing.T) {
	cases := []struct {
		name string
		args Args
		kind apperrors.Kind
	}{
		{"credentials first", Args{"repeat": "x"}, apperrors.KindClientMissingEmail},
		{"device before command", Args{"secret": "s1"}, apperrors.KindClientMissingDevice},
		{"command before numbers", Args{"secret": "s1", "device": "Lamp", "repeat": "x"}, apperrors.KindClientMissingCommand},
		{"repeat before sleep", Args{"secret": "s1", "device": "Lamp", "command": "on", "repeat": "99", "sleep": "x"}, apperrors.KindInvalidNumber},
		{"sleep", Args{"secret": "s1", "device": "Lamp", "command": "on", "sleep": "x"}, apperrors.KindNotANumber},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(tc.args, configured)
			if apperrors.KindOf(err) != tc.kind {
				t.Fatalf("expected %s got %v", tc.kind, err)
			}
		})
	}
}

func TestResolve_UnknownCommandIsLeftToTheClient(t *testing.T) {
	req, err := Resolve(Args{"secret": "s1", "device": "Lamp", "command": "dim"}, configured)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Command != "dim" || req.Repeat != DefaultRepeat || req.Sleep != 2*time.Second {
		t.Fatalf("unexpected request %+v", req)
	}
}
