package scan

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		listUnsub     string
		listUnsubPost string
		wantMechanism Mechanism
		wantTarget    string
	}{
		{
			name:          "OneClick",
			listUnsub:     "<https://acme.com/unsub?u=1>",
			listUnsubPost: "List-Unsubscribe=One-Click",
			wantMechanism: MechanismAutomatic,
			wantTarget:    "https://acme.com/unsub?u=1",
		},
		{
			name:          "OneClickWithMailtoFirst",
			listUnsub:     "<mailto:unsub@acme.com>, <https://acme.com/unsub>",
			listUnsubPost: "List-Unsubscribe=One-Click",
			wantMechanism: MechanismAutomatic,
			wantTarget:    "https://acme.com/unsub",
		},
		{
			name:          "ManualLink",
			listUnsub:     "<https://acme.com/unsub>",
			wantMechanism: MechanismManual,
			wantTarget:    "https://acme.com/unsub",
		},
		{
			name:          "ManualMailto",
			listUnsub:     "<mailto:unsub@acme.com?subject=stop>",
			wantMechanism: MechanismManual,
			wantTarget:    "mailto:unsub@acme.com?subject=stop",
		},
		{
			name:          "PostIndicatorWithoutHTTPTarget",
			listUnsub:     "<mailto:unsub@acme.com>",
			listUnsubPost: "List-Unsubscribe=One-Click",
			wantMechanism: MechanismManual,
			wantTarget:    "mailto:unsub@acme.com",
		},
		{
			name:          "NoHeaders",
			wantMechanism: MechanismNone,
		},
		{
			name:          "GarbageHeader",
			listUnsub:     "call us maybe",
			wantMechanism: MechanismNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.listUnsub, tt.listUnsubPost)
			if got.Mechanism != tt.wantMechanism {
				t.Errorf("mechanism = %s, want %s", got.Mechanism, tt.wantMechanism)
			}
			if got.Target != tt.wantTarget {
				t.Errorf("target = %q, want %q", got.Target, tt.wantTarget)
			}

			// Classification is pure.
			if again := Classify(tt.listUnsub, tt.listUnsubPost); again != got {
				t.Errorf("Classify not idempotent: %+v then %+v", got, again)
			}
		})
	}
}

// publicLookup lets tests target a loopback httptest server while the
// SSRF check believes the host resolves publicly.
func publicLookup(ctx context.Context, host string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func testUnsubscriber(lookup func(context.Context, string) ([]net.IP, error)) *Unsubscriber {
	u := NewUnsubscriber(nil)
	u.LookupIP = lookup
	return u
}

func TestUnsubscribeOneClickPost(t *testing.T) {
	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	u := testUnsubscriber(publicLookup)
	res := u.Unsubscribe(context.Background(), srv.URL)

	if !res.Success {
		t.Fatalf("Unsubscribe() = %+v, want success", res)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotBody != "List-Unsubscribe=One-Click" {
		t.Errorf("body = %q", gotBody)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", gotContentType)
	}
}

func TestUnsubscribePostRejectedFallsBackToGet(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := testUnsubscriber(publicLookup)
	res := u.Unsubscribe(context.Background(), srv.URL)

	if !res.Success {
		t.Fatalf("Unsubscribe() = %+v, want success via GET fallback", res)
	}
	if res.Mechanism != MechanismManual {
		t.Errorf("mechanism = %s, want degraded to manual", res.Mechanism)
	}
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodGet {
		t.Errorf("methods = %v, want [POST GET]", methods)
	}
}

func TestUnsubscribeBothRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u := testUnsubscriber(publicLookup)
	res := u.Unsubscribe(context.Background(), srv.URL)

	if res.Success {
		t.Fatalf("Unsubscribe() = %+v, want failure", res)
	}
	if res.Mechanism != MechanismManual {
		t.Errorf("mechanism = %s, want manual", res.Mechanism)
	}
}

func TestUnsubscribeMailto(t *testing.T) {
	u := testUnsubscriber(publicLookup)
	res := u.Unsubscribe(context.Background(), "mailto:unsub@acme.com")

	if res.Success {
		t.Error("mailto target should not report success")
	}
	if res.Mechanism != MechanismManual {
		t.Errorf("mechanism = %s, want manual", res.Mechanism)
	}
}

func TestUnsubscribeBlocksRestrictedTargets(t *testing.T) {
	tests := []struct {
		name   string
		target string
		lookup func(context.Context, string) ([]net.IP, error)
	}{
		{
			name:   "Loopback",
			target: "http://internal.example/unsub",
			lookup: func(ctx context.Context, host string) ([]net.IP, error) {
				return []net.IP{net.ParseIP("127.0.0.1")}, nil
			},
		},
		{
			name:   "PrivateRange",
			target: "https://intranet.example/unsub",
			lookup: func(ctx context.Context, host string) ([]net.IP, error) {
				return []net.IP{net.ParseIP("10.1.2.3")}, nil
			},
		},
		{
			name:   "LinkLocal",
			target: "https://metadata.example/unsub",
			lookup: func(ctx context.Context, host string) ([]net.IP, error) {
				return []net.IP{net.ParseIP("169.254.169.254")}, nil
			},
		},
		{
			name:   "BadScheme",
			target: "ftp://acme.com/unsub",
			lookup: publicLookup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := testUnsubscriber(tt.lookup)
			res := u.Unsubscribe(context.Background(), tt.target)
			if res.Success {
				t.Errorf("Unsubscribe(%s) succeeded, want blocked", tt.target)
			}
		})
	}
}

func TestUnsubscribeEmptyTarget(t *testing.T) {
	u := testUnsubscriber(publicLookup)
	if res := u.Unsubscribe(context.Background(), ""); res.Success {
		t.Error("empty target should fail")
	}
}
