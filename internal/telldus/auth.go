package telldus

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
	"github.com/AndreCAndersen/home2telldus/internal/observability"
)

// LoggedInMarker is the text Telldus renders on the page after a successful login.
// The login endpoint answers 200 for both outcomes, so this is the only signal.
const LoggedInMarker = "Logged in as"

// Authenticator establishes a Telldus Live session on hc (through its cookie jar).
type Authenticator interface {
	Authenticate(ctx context.Context, hc *http.Client, endpoints Endpoints, creds Credentials) error
}

// OpenIDFormAuthenticator logs in through the browser OpenID flow of login.telldus.com.
type OpenIDFormAuthenticator struct {
	Marker string
	Logger *slog.Logger
}

func loginQuery() url.Values {
	q := url.Values{}
	q.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.return_to", "https://live.telldus.com/device/index")
	q.Set("openid.realm", "https://live.telldus.com")
	q.Set("openid.ns.sreg", "http://openid.net/extensions/sreg/1.1")
	q.Set("openid.sreg.required", "email, fullname")
	q.Set("openid.claimed_id", "http://specs.openid.net/auth/2.0/identifier_select")
	q.Set("openid.identity", "http://specs.openid.net/auth/2.0/identifier_select")
	return q
}

func (a OpenIDFormAuthenticator) Authenticate(ctx context.Context, hc *http.Client, endpoints Endpoints, creds Credentials) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	marker := a.Marker
	if marker == "" {
		marker = LoggedInMarker
	}

	// Landing page first so the live.telldus.com cookies exist before the OpenID round trip.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoints.Live, "/")+"/", nil)
	if err != nil {
		return apperrors.RemoteRequestFailed(err)
	}
	resp, err := hc.Do(req)
	observability.ObserveRemote("landing", err)
	if err != nil {
		return apperrors.RemoteRequestFailed(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	form := url.Values{}
	form.Set("email", creds.Email)
	form.Set("password", creds.Password)
	loginURL := endpoints.Login + "?" + loginQuery().Encode()

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.RemoteRequestFailed(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = hc.Do(req)
	if err != nil {
		observability.ObserveRemote("login", err)
		return apperrors.RemoteRequestFailed(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	observability.ObserveRemote("login", err)
	if err != nil {
		return apperrors.RemoteRequestFailed(err)
	}

	if !bytes.Contains(body, []byte(marker)) {
		logger.Warn("telldus login rejected", "email", creds.Email, "status", resp.StatusCode, "reason", loginFailureReason(body))
		return apperrors.InvalidEmailOrPassword()
	}
	logger.Debug("telldus login ok", "email", creds.Email)
	return nil
}

// loginFailureReason pulls the visible error text out of the login page, for logs only.
func loginFailureReason(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var reason string
	doc.Find(".error, .alert, .message, #error").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		reason = strings.Join(strings.Fields(s.Text()), " ")
		return reason == ""
	})
	if reason == "" {
		reason = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return reason
}
