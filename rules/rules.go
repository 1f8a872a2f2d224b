//go:build ruleguard

// Package gorules contains ruleguard checks for farmdash conventions, run
// through golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdErrorsNew flags stdlib errors.New in favour of the categorized
// builders in internal/errors.
//
//	errors.New("no session")             // stdlib
//	errors.Newf("no session").Build()    // internal/errors
func StdErrorsNew(m dsl.Matcher) {
	m.Import("errors")
	m.Match(`errors.New($msg)`).
		Where(m["msg"].Type.Is("string") && !m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("use internal/errors Newf(...).Category(...).Build() or NewStd so the error carries a category")
}

// SlogFormattedMessage flags fmt.Sprintf inside slog calls; pass values as
// attributes instead.
func SlogFormattedMessage(m dsl.Matcher) {
	m.Match(
		`$l.Debug(fmt.Sprintf($*_), $*_)`,
		`$l.Info(fmt.Sprintf($*_), $*_)`,
		`$l.Warn(fmt.Sprintf($*_), $*_)`,
		`$l.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m["l"].Type.Is("*slog.Logger")).
		Report("use a constant message and key/value attributes with slog")
}

// WaitGroupGo flags the Add/Done goroutine pattern.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}

// TimeFormatConstants flags layout strings that have a named constant.
func TimeFormatConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime)`).
		Suggest(`$t.Format(time.DateTime)`)
	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly)`).
		Suggest(`$t.Format(time.DateOnly)`)
}

// DeferredTimeSince flags defer with time.Since evaluated at defer time.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(`defer $fn(time.Since($start))`, `defer $fn($*_, time.Since($start), $*_)`).
		Report("time.Since is evaluated when the defer statement executes, not at return; wrap it in a closure")
}
