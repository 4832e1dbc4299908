// Package matcher defines the rule matcher's contract with the core. The
// matcher's own regex/keyword engine is an external collaborator (spec
// §1 "out of scope"); this package only specifies what the Redirect
// Follower and Embed Checker consume from it.
package matcher

import "github.com/littleironwaltz/moderation-agent/internal/model"

// Matcher evaluates a set of candidate strings — typically a root URL, a
// "redirected_url" marker, and the next hop URL — against the moderation
// rule set and reports every rule that matched.
type Matcher interface {
	AllMatchesForCandidates(candidates []string) []model.MatchResult
}

// Func adapts a plain function to the Matcher interface, the way the
// teacher's handler registrations adapt plain funcs to interfaces.
type Func func(candidates []string) []model.MatchResult

func (f Func) AllMatchesForCandidates(candidates []string) []model.MatchResult {
	return f(candidates)
}

// None is a Matcher that never matches; useful as a safe default when no
// rule set has been wired up yet.
var None Matcher = Func(func([]string) []model.MatchResult { return nil })
