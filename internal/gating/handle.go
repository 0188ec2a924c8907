package gating

import "strings"

var telegramHosts = []string{"t.me/", "telegram.me/", "www.t.me/"}

// NormalizeHandle derives the lookup identifier for a Telegram channel from
// its stored URL: scheme, host and any path or query after the name are
// dropped and the result is prefixed with "@". It returns "" when no name
// can be extracted.
func NormalizeHandle(url string) string {
	s := strings.TrimSpace(url)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	for _, h := range telegramHosts {
		if i := strings.Index(s, h); i >= 0 {
			s = s[i+len(h):]
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "@" + s
}

// CanonicalURL rewrites a channel link entered by an operator into the stored
// form: Telegram links and bare names become "@name", other http(s) links are
// kept as entered.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "@") {
		return s
	}
	lower := strings.ToLower(s)
	for _, h := range telegramHosts {
		if strings.Contains(lower, h) {
			if handle := NormalizeHandle(s); handle != "" {
				return handle
			}
			return s
		}
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}
	return "@" + s
}

// JoinURL returns a link a user can open to join the channel.
func JoinURL(stored string) string {
	s := strings.TrimSpace(stored)
	switch {
	case strings.HasPrefix(s, "@"):
		return "https://t.me/" + s[1:]
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s
	case strings.HasPrefix(s, "t.me/"):
		return "https://" + s
	}
	return "https://t.me/" + s
}
