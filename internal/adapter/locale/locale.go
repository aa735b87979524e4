// Package locale provides locale and theme resolvers and the interceptor
// switching the locale from a request parameter.
package locale

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/strategy"
)

// ErrUnsupported is returned by resolvers that cannot change their value.
var ErrUnsupported = errors.New("locale: change not supported by resolver")

// AcceptHeaderResolver negotiates the locale from Accept-Language against
// the supported tags. The first supported tag is the fallback.
type AcceptHeaderResolver struct {
	supported []language.Tag
	matcher   language.Matcher
}

var (
	_ strategy.LocaleResolver = (*AcceptHeaderResolver)(nil)
	_ strategy.LocaleResolver = (*CookieResolver)(nil)
	_ strategy.ThemeResolver  = FixedThemeResolver{}
)

// NewAcceptHeaderResolver returns a resolver for supported. With no tags
// English is supported.
func NewAcceptHeaderResolver(supported ...language.Tag) *AcceptHeaderResolver {
	if len(supported) == 0 {
		supported = []language.Tag{language.English}
	}
	return &AcceptHeaderResolver{supported: supported, matcher: language.NewMatcher(supported)}
}

func (a *AcceptHeaderResolver) ResolveLocale(r *http.Request) language.Tag {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return a.supported[0]
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return a.supported[0]
	}
	_, idx, conf := a.matcher.Match(tags...)
	if conf == language.No {
		return a.supported[0]
	}
	return a.supported[idx]
}

// SetLocale is not supported: the locale follows the request header.
func (a *AcceptHeaderResolver) SetLocale(http.ResponseWriter, *http.Request, language.Tag) error {
	return ErrUnsupported
}

// DefaultCookieName is the cookie CookieResolver stores the locale in.
const DefaultCookieName = "LOCALE"

// CookieResolver reads the locale from a cookie and falls back to another
// resolver when the cookie is absent or invalid.
type CookieResolver struct {
	Name     string
	MaxAge   int
	Fallback strategy.LocaleResolver
}

// NewCookieResolver returns a resolver using DefaultCookieName.
func NewCookieResolver(fallback strategy.LocaleResolver) *CookieResolver {
	return &CookieResolver{Name: DefaultCookieName, MaxAge: 365 * 24 * 3600, Fallback: fallback}
}

func (c *CookieResolver) ResolveLocale(r *http.Request) language.Tag {
	if rc := mvc.FromRequest(r); rc != nil {
		if v, ok := rc.Attribute(c.attr()); ok {
			return v.(language.Tag)
		}
	}
	if ck, err := r.Cookie(c.Name); err == nil {
		if tag, err := language.Parse(ck.Value); err == nil {
			return tag
		}
	}
	if c.Fallback != nil {
		return c.Fallback.ResolveLocale(r)
	}
	return language.Und
}

// SetLocale stores tag in the cookie. language.Und removes the cookie.
// The new locale applies to the rest of the current request.
func (c *CookieResolver) SetLocale(w http.ResponseWriter, r *http.Request, tag language.Tag) error {
	ck := &http.Cookie{Name: c.Name, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
	if tag == language.Und {
		ck.MaxAge = -1
	} else {
		ck.Value = tag.String()
		ck.MaxAge = c.MaxAge
	}
	http.SetCookie(w, ck)
	if rc := mvc.FromRequest(r); rc != nil {
		if tag == language.Und {
			rc.RemoveAttribute(c.attr())
		} else {
			rc.SetAttribute(c.attr(), tag)
		}
		rc.SetLocale(c.ResolveLocale(r))
	}
	return nil
}

func (c *CookieResolver) attr() string { return "locale.cookie." + c.Name }

// FixedThemeResolver always resolves the same theme.
type FixedThemeResolver struct {
	Name string
}

func (f FixedThemeResolver) ResolveThemeName(*http.Request) string { return f.Name }

func (f FixedThemeResolver) SetThemeName(http.ResponseWriter, *http.Request, string) error {
	return ErrUnsupported
}

// ChangeInterceptor switches the locale when the request carries Param.
type ChangeInterceptor struct {
	mvc.InterceptorBase
	Param string
}

// PreHandle applies the parameter through the published locale resolver.
// An unparsable value is rejected with 400.
func (c *ChangeInterceptor) PreHandle(w http.ResponseWriter, r *http.Request, _ any) (bool, error) {
	v := r.URL.Query().Get(c.Param)
	if v == "" {
		return true, nil
	}
	tag, err := language.Parse(v)
	if err != nil {
		return false, mvc.NewResponseStatusError(http.StatusBadRequest, fmt.Sprintf("invalid locale %q", v))
	}
	rc := mvc.FromRequest(r)
	if rc == nil || rc.LocaleResolver() == nil {
		return true, nil
	}
	if err := rc.LocaleResolver().SetLocale(w, r, tag); err != nil && !errors.Is(err, ErrUnsupported) {
		return false, fmt.Errorf("set locale: %w", err)
	}
	return true, nil
}
