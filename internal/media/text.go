package media

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	snippetBefore = 100
	snippetAfter  = 200
)

// combining diacritical marks block, U+0300..U+036F.
func isCombiningMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

// Fold lowercases s and strips accents so "Peñarol" and "penarol" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isCombiningMark)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ContainsFolded reports whether needle occurs in haystack ignoring case and accents.
func ContainsFolded(haystack, needle string) bool {
	n := Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Fold(haystack), n)
}

func foldRune(r rune) rune {
	folded := []rune(Fold(string(r)))
	if len(folded) == 1 {
		return folded[0]
	}
	return unicode.ToLower(r)
}

// Snippet extracts the text around the first folded occurrence of keyword:
// 100 runes before it and the keyword plus 200 runes after, clamped to the text.
func Snippet(text, keyword string) string {
	src := []rune(text)
	hay := make([]rune, len(src))
	for i, r := range src {
		hay[i] = foldRune(r)
	}
	needle := []rune(Fold(keyword))
	idx := indexRunes(hay, needle)
	if idx < 0 {
		idx = 0
	}
	start := max(0, idx-snippetBefore)
	end := min(len(src), idx+len(needle)+snippetAfter)
	return strings.TrimSpace(string(src[start:end]))
}

func indexRunes(hay, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"fbclid": {}, "gclid": {}, "gclsrc": {}, "dclid": {}, "msclkid": {}, "ref": {}, "source": {},
	"mc_cid": {}, "mc_eid": {}, "_ga": {}, "_gl": {}, "yclid": {}, "twclid": {}, "igshid": {},
}

// NormalizeURL canonicalizes a URL for deduplication: https scheme, no www,
// lowercase host, no fragment, no tracking parameters and no trailing slash.
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	q := u.Query()
	for key := range q {
		if _, ok := trackingParams[strings.ToLower(key)]; ok {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	out := u.String()
	if u.Path != "/" && u.Path != "" && strings.HasSuffix(out, "/") {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

// HostOf returns the hostname of rawURL without a www. prefix, or fallback.
func HostOf(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fallback
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
