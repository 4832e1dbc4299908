// Package redirect implements the Redirect Follower: it chases an external
// URL's HTTP redirect chain, evaluating the whitelist and rule matcher at
// every hop, and reports how the chain terminated.
package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/littleironwaltz/moderation-agent/internal/action"
	"github.com/littleironwaltz/moderation-agent/internal/counters"
	"github.com/littleironwaltz/moderation-agent/internal/matcher"
	"github.com/littleironwaltz/moderation-agent/internal/metrics"
	"github.com/littleironwaltz/moderation-agent/internal/model"
	"github.com/littleironwaltz/moderation-agent/internal/whitelist"
)

// browserUserAgent mimics an ordinary browser request so that redirect
// targets that special-case bot traffic behave the same way a human
// clicking the link would see.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Follower chases redirects for one external-embed URL at a time. One
// Follower is shared by the embed checker's worker pool; it holds no
// per-chain state.
type Follower struct {
	httpClient *http.Client
	limit      int
	matcher    matcher.Matcher
	admission  *whitelist.Admission
	links      *counters.Category
	router     *action.Router
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// SetLimiter attaches a per-host-agnostic rate limit shared by every hop
// request the follower issues, so a burst of external embeds across many
// chains doesn't hammer a single slow or hostile redirect target. Nil (the
// default) applies no limit.
func (f *Follower) SetLimiter(l *rate.Limiter) {
	f.limiter = l
}

// New constructs a Follower with the given url_redirect_limit. The
// admission checker and link counter category are the same instances the
// embed checker uses for top-level URIs, so a hop that lands on a
// whitelisted or already-seen URL is recognized mid-chain. router is used
// to submit an account-level report when the chain overflows the limit,
// and a label decision when the matcher fires along the way; it may be nil
// in tests that only care about the returned Result.
func New(limit int, m matcher.Matcher, admission *whitelist.Admission, links *counters.Category, router *action.Router, logger *slog.Logger) *Follower {
	if m == nil {
		m = matcher.None
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			// Redirects are followed manually, one hop at a time, so each
			// hop can be matched and counted before continuing.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limit:     limit,
		matcher:   m,
		admission: admission,
		links:     links,
		router:    router,
		logger:    logger,
	}
}

// Result describes a followed chain: the hop record, why it stopped, and any
// rule matches observed along the way. Follow has already submitted any
// resulting decisions to the action router by the time it returns a Result.
type Result struct {
	Chain   model.RedirectChain
	Outcome model.RedirectOutcome
	Matches []model.MatchResult
}

// Follow issues a GET against rootURL and follows Location headers one hop
// at a time, up to the configured limit. At each hop, a whitelisted
// destination or one this process has already counted ends the chain early
// as completed, rather than spending further requests re-deriving a result
// another chain already produced. Exceeding the limit yields
// RedirectOverflow rather than an error, and is reported as an account-level
// decision through the action router; a transport failure yields
// RedirectError. Any rule matches observed along the way are submitted as a
// label decision for repoDID/path.
func (f *Follower) Follow(ctx context.Context, repoDID, path, rootURL string) Result {
	chain := model.RedirectChain{Root: rootURL}
	var matches []model.MatchResult
	current := rootURL

	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return f.finish(ctx, repoDID, path, chain, model.RedirectError, matches)
			}
		}

		resp, err := f.get(ctx, current)
		if err != nil {
			f.logger.Warn("redirect: request failed", "url", current, "err", err)
			return f.finish(ctx, repoDID, path, chain, model.RedirectError, matches)
		}

		location := resp.Header.Get("Location")
		status := resp.StatusCode
		resp.Body.Close()

		if !isRedirectStatus(status) || location == "" {
			return f.finish(ctx, repoDID, path, chain, model.RedirectCompleted, matches)
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			f.logger.Warn("redirect: malformed Location header", "url", current, "location", location, "err", err)
			return f.finish(ctx, repoDID, path, chain, model.RedirectError, matches)
		}

		if len(chain.Hops) >= f.limit {
			return f.finish(ctx, repoDID, path, chain, model.RedirectOverflow, matches)
		}

		chain.Hops = append(chain.Hops, next)
		matches = append(matches, f.matcher.AllMatchesForCandidates([]string{chain.Root, "redirected_url", next})...)

		if f.admission != nil {
			if _, process, err := f.admission.ShouldProcess(next); err == nil && !process {
				return f.finish(ctx, repoDID, path, chain, model.RedirectCompleted, matches)
			}
		}
		if f.links != nil {
			if _, didInsert := f.links.Observe(next); !didInsert {
				return f.finish(ctx, repoDID, path, chain, model.RedirectCompleted, matches)
			}
		}

		current = next
	}
}

func (f *Follower) finish(ctx context.Context, repoDID, path string, chain model.RedirectChain, outcome model.RedirectOutcome, matches []model.MatchResult) Result {
	metrics.RedirectHops.Observe(float64(len(chain.Hops)))
	metrics.RedirectOutcomesTotal.WithLabelValues(outcome.String()).Inc()

	if f.router != nil {
		if len(matches) > 0 {
			if err := f.router.Enqueue(ctx, action.Decision{
				Kind:        action.DecisionMatches,
				RepoDID:     repoDID,
				PathMatches: map[string][]model.MatchResult{path: matches},
			}); err != nil {
				f.logger.Warn("redirect: dropped match decision", "repo_did", repoDID, "path", path, "err", err)
			}
		}
		if outcome == model.RedirectOverflow {
			reason := fmt.Sprintf("redirect chain from %s exceeded the %d-hop limit", chain.Root, f.limit)
			if err := f.router.Enqueue(ctx, action.Decision{
				Kind:         action.DecisionReport,
				RepoDID:      repoDID,
				ReportReason: reason,
			}); err != nil {
				f.logger.Warn("redirect: dropped overflow report", "repo_did", repoDID, "err", err)
			}
		}
	}

	return Result{Chain: chain, Outcome: outcome, Matches: matches}
}

func (f *Follower) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("redirect: build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return f.httpClient.Do(req)
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid Location %q: %w", location, err)
	}
	if locURL.IsAbs() {
		return locURL.String(), nil
	}
	return baseURL.ResolveReference(locURL).String(), nil
}
