package loader

import (
	"regexp"
	"strings"
)

var (
	crawlerRe = regexp.MustCompile(`(?i)(bot|spider)`)
	sourceRe  = regexp.MustCompile(`'([^']*)'`)
)

// IsCrawler reports whether the user agent belongs to an automated crawler.
func IsCrawler(userAgent string) bool {
	return crawlerRe.MatchString(userAgent)
}

// SelfSource returns the first quoted token of a policy: the source the
// parent pinned for this frame's own loader.
func SelfSource(policy string) string {
	m := sourceRe.FindStringSubmatch(policy)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExpectedPolicy is the policy a frame needs: its own source, the sources
// of its scripts and permission to run a same-origin worker.
func ExpectedPolicy(self string, sources []string) string {
	var b strings.Builder
	b.WriteString("script-src '")
	b.WriteString(self)
	b.WriteString("'")
	if len(sources) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(sources, " "))
	}
	b.WriteString("; worker-src 'self';")
	return b.String()
}
