// internal/session/session.go
package session

import (
	"net"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is a browser cookie as persisted between runs. A zero Expires marks
// a session cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie is past its expiry at now.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Session is an ordered cookie set captured after a successful login.
type Session struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Empty reports whether the session carries no cookies.
func (s Session) Empty() bool {
	return len(s.Cookies) == 0
}

// Live returns a copy of s without the cookies that expired at now. Order is kept.
func (s Session) Live(now time.Time) Session {
	out := Session{CapturedAt: s.CapturedAt, Cookies: make([]Cookie, 0, len(s.Cookies))}
	for _, c := range s.Cookies {
		if !c.Expired(now) {
			out.Cookies = append(out.Cookies, c)
		}
	}
	return out
}

// ScopedTo returns a copy of s holding only the cookies that belong to the
// registrable domain of host. Third-party tracking cookies picked up during
// login are dropped this way.
func (s Session) ScopedTo(host string) Session {
	site := registrableDomain(host)
	out := Session{CapturedAt: s.CapturedAt, Cookies: make([]Cookie, 0, len(s.Cookies))}
	for _, c := range s.Cookies {
		if registrableDomain(c.Domain) == site {
			out.Cookies = append(out.Cookies, c)
		}
	}
	return out
}

func registrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}
