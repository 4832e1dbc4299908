package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/littleironwaltz/moderation-agent/internal/matcher"
	"github.com/littleironwaltz/moderation-agent/internal/model"
	"github.com/littleironwaltz/moderation-agent/internal/whitelist"
)

func whitelistAdmissionFor(t *testing.T, rawURL string) *whitelist.Admission {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	return whitelist.New("", []string{u.Host})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFollowCompletesOnNonRedirectStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(5, matcher.None, nil, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", srv.URL)

	if res.Outcome != model.RedirectCompleted {
		t.Errorf("expected completed outcome, got %v", res.Outcome)
	}
	if len(res.Chain.Hops) != 0 {
		t.Errorf("expected zero hops, got %d", len(res.Chain.Hops))
	}
}

func TestFollowTracksHopsWithinLimit(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/mid", http.StatusFound)
	})
	mux.HandleFunc("/mid", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f := New(5, matcher.None, nil, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", srv.URL+"/start")

	if res.Outcome != model.RedirectCompleted {
		t.Errorf("expected completed outcome, got %v", res.Outcome)
	}
	if len(res.Chain.Hops) != 2 {
		t.Errorf("expected 2 hops, got %d: %v", len(res.Chain.Hops), res.Chain.Hops)
	}
}

func TestFollowReportsOverflowPastLimit(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	hop := 0
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("%s/loop?n=%d", srv.URL, hop), http.StatusFound)
	})

	f := New(2, matcher.None, nil, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", srv.URL+"/loop")

	if res.Outcome != model.RedirectOverflow {
		t.Errorf("expected overflow outcome, got %v", res.Outcome)
	}
	if len(res.Chain.Hops) != 2 {
		t.Errorf("expected exactly limit (2) hops recorded, got %d", len(res.Chain.Hops))
	}
}

func TestFollowReportsErrorOnUnreachableHost(t *testing.T) {
	f := New(5, matcher.None, nil, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", "http://127.0.0.1:1/unreachable")

	if res.Outcome != model.RedirectError {
		t.Errorf("expected error outcome, got %v", res.Outcome)
	}
}

func TestFollowEvaluatesMatcherAtEachHop(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var seenCandidates [][]string
	m := matcher.Func(func(candidates []string) []model.MatchResult {
		seenCandidates = append(seenCandidates, candidates)
		return []model.MatchResult{{Rule: "always-matches", Candidate: candidates[len(candidates)-1]}}
	})

	f := New(5, m, nil, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", srv.URL+"/start")

	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match recorded, got %d", len(res.Matches))
	}
	if res.Matches[0].Rule != "always-matches" {
		t.Errorf("unexpected rule %q", res.Matches[0].Rule)
	}
	if len(seenCandidates) != 1 || len(seenCandidates[0]) != 3 {
		t.Errorf("expected matcher invoked once with 3 candidates, got %v", seenCandidates)
	}
	if seenCandidates[0][1] != "redirected_url" {
		t.Errorf("expected marker candidate, got %q", seenCandidates[0][1])
	}
}

func TestFollowStopsEarlyOnWhitelistedHop(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	hitCount := 0
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/whitelisted", http.StatusFound)
	})
	mux.HandleFunc("/whitelisted", func(w http.ResponseWriter, r *http.Request) {
		hitCount++
		http.Redirect(w, r, srv.URL+"/never-reached", http.StatusFound)
	})
	mux.HandleFunc("/never-reached", func(w http.ResponseWriter, r *http.Request) {
		t.Error("should not have followed past the whitelisted hop")
	})

	admission := whitelistAdmissionFor(t, srv.URL+"/whitelisted")
	f := New(5, matcher.None, admission, nil, nil, discardLogger())
	res := f.Follow(context.Background(), "did:plc:subject", "app.bsky.feed.post/1", srv.URL+"/start")

	if res.Outcome != model.RedirectCompleted {
		t.Errorf("expected completed outcome on whitelist short-circuit, got %v", res.Outcome)
	}
	if len(res.Chain.Hops) != 1 {
		t.Errorf("expected exactly 1 hop recorded before stopping, got %d", len(res.Chain.Hops))
	}
}
