package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Mechanism is how a sender's unsubscribe can be executed.
type Mechanism string

const (
	// MechanismAutomatic means the sender advertises RFC 8058 one-click
	// unsubscribe and the engine can execute it with a single POST.
	MechanismAutomatic Mechanism = "one-click"

	// MechanismManual means a link or mailto exists but requires the
	// user to act on it.
	MechanismManual Mechanism = "manual"

	// MechanismNone means no unsubscribe mechanism was advertised.
	// Senders classified none are excluded from scan results.
	MechanismNone Mechanism = "none"
)

// UnsubscribeInfo is the classified unsubscribe mechanism of one sender.
type UnsubscribeInfo struct {
	Mechanism Mechanism `json:"mechanism"`
	Target    string    `json:"link,omitempty"`
}

var (
	httpTargetRe   = regexp.MustCompile(`<(https?://[^>]+)>`)
	mailtoTargetRe = regexp.MustCompile(`<(mailto:[^>]+)>`)
)

// Classify decides the unsubscribe mechanism from the raw List-Unsubscribe
// and List-Unsubscribe-Post header values. Pure and idempotent.
//
// Automatic requires both the One-Click post indicator and an http(s)
// target; a post indicator without a postable URL is useless. Otherwise
// any http(s) or mailto target classifies as manual.
func Classify(listUnsubscribe, listUnsubscribePost string) UnsubscribeInfo {
	if listUnsubscribe == "" {
		return UnsubscribeInfo{Mechanism: MechanismNone}
	}

	httpTargets := httpTargetRe.FindStringSubmatch(listUnsubscribe)

	if strings.Contains(listUnsubscribePost, "One-Click") && httpTargets != nil {
		return UnsubscribeInfo{Mechanism: MechanismAutomatic, Target: httpTargets[1]}
	}
	if httpTargets != nil {
		return UnsubscribeInfo{Mechanism: MechanismManual, Target: httpTargets[1]}
	}
	if m := mailtoTargetRe.FindStringSubmatch(listUnsubscribe); m != nil {
		return UnsubscribeInfo{Mechanism: MechanismManual, Target: m[1]}
	}
	return UnsubscribeInfo{Mechanism: MechanismNone}
}

// UnsubscribeResult is the outcome of one unsubscribe attempt. A failed
// automatic attempt degrades only that sender; Mechanism carries the
// degraded value the caller should display.
type UnsubscribeResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Mechanism Mechanism `json:"mechanism,omitempty"`
}

const unsubscribeUserAgent = "Mozilla/5.0 (compatible; GmailCleaner/1.0)"

// Unsubscriber executes unsubscribe targets. Outbound requests go to
// attacker-influenced URLs (mail headers), so every target is validated
// against SSRF before any connection is made.
type Unsubscriber struct {
	Client *http.Client
	Logger *slog.Logger

	// LookupIP resolves a hostname for the SSRF check. Defaults to the
	// system resolver; tests substitute a fake.
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// NewUnsubscriber creates an Unsubscriber with a 10 second timeout and
// redirects disabled, so 3xx responses are observed rather than followed.
func NewUnsubscriber(logger *slog.Logger) *Unsubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Unsubscriber{
		Client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Logger: logger,
	}
}

// Unsubscribe attempts the target. mailto targets are reported back for
// the user to act on. http(s) targets get the one-click POST first, then
// a GET fallback.
func (u *Unsubscriber) Unsubscribe(ctx context.Context, target string) UnsubscribeResult {
	if target == "" {
		return UnsubscribeResult{Message: "no unsubscribe link provided"}
	}

	if strings.HasPrefix(target, "mailto:") {
		return UnsubscribeResult{
			Message:   "email-based unsubscribe, open in your mail client",
			Mechanism: MechanismManual,
		}
	}

	if err := u.validateTarget(ctx, target); err != nil {
		return UnsubscribeResult{Message: "security error: " + err.Error()}
	}

	if res, ok := u.tryPost(ctx, target); ok {
		return res
	}
	return u.tryGet(ctx, target)
}

// tryPost issues the RFC 8058 one-click POST. ok is false when the caller
// should fall back to GET.
func (u *Unsubscriber) tryPost(ctx context.Context, target string) (UnsubscribeResult, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target,
		strings.NewReader("List-Unsubscribe=One-Click"))
	if err != nil {
		return UnsubscribeResult{}, false
	}
	req.Header.Set("User-Agent", unsubscribeUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.Client.Do(req)
	if err != nil {
		u.Logger.Debug("one-click POST failed, falling back to GET", "error", err)
		return UnsubscribeResult{}, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return UnsubscribeResult{Success: true, Message: "unsubscribed successfully"}, true
	}
	u.Logger.Debug("one-click POST rejected, falling back to GET", "status", resp.StatusCode)
	return UnsubscribeResult{}, false
}

// tryGet opens the link the way a browser click would. The automatic
// mechanism has already failed at this point, so the result is reported
// with the manual mechanism.
func (u *Unsubscriber) tryGet(ctx context.Context, target string) UnsubscribeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return UnsubscribeResult{Message: err.Error(), Mechanism: MechanismManual}
	}
	req.Header.Set("User-Agent", unsubscribeUserAgent)

	resp, err := u.Client.Do(req)
	if err != nil {
		return UnsubscribeResult{Message: err.Error(), Mechanism: MechanismManual}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return UnsubscribeResult{
			Success:   true,
			Message:   "unsubscribed (confirmation may be needed)",
			Mechanism: MechanismManual,
		}
	}
	return UnsubscribeResult{
		Message:   fmt.Sprintf("server returned status %d", resp.StatusCode),
		Mechanism: MechanismManual,
	}
}

// validateTarget rejects URLs that could reach internal infrastructure.
func (u *Unsubscriber) validateTarget(ctx context.Context, target string) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}

	lookup := u.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	ips, err := lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("could not resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no addresses for %q", host)
	}
	for _, ip := range ips {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("blocked restricted address %s", ip)
		}
	}
	return nil
}
