package locale

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

func TestAcceptHeaderResolver(t *testing.T) {
	a := NewAcceptHeaderResolver(language.English, language.German, language.French)
	tests := []struct {
		header string
		want   language.Tag
	}{
		{"", language.English},
		{"de-AT,de;q=0.9,en;q=0.5", language.German},
		{"fr-CA", language.French},
		{"ja", language.English},
		{"!!invalid", language.English},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		if tt.header != "" {
			r.Header.Set("Accept-Language", tt.header)
		}
		if got := a.ResolveLocale(r); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.header, got, tt.want)
		}
	}
	if err := a.SetLocale(nil, nil, language.German); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestCookieResolver(t *testing.T) {
	c := NewCookieResolver(NewAcceptHeaderResolver(language.English))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := c.ResolveLocale(r); got != language.English {
		t.Errorf("fallback: got %v", got)
	}

	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "de"})
	if got := c.ResolveLocale(r); got != language.German {
		t.Errorf("cookie: got %v", got)
	}
}

func TestCookieResolverSetLocaleAppliesToCurrentRequest(t *testing.T) {
	c := NewCookieResolver(nil)
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rc := mvc.NewRequestContext(nil)
	r = r.WithContext(mvc.WithRequestContext(r.Context(), rc))

	rec := httptest.NewRecorder()
	if err := c.SetLocale(rec, r, language.French); err != nil {
		t.Fatal(err)
	}
	if got := c.ResolveLocale(r); got != language.French {
		t.Errorf("got %v, want fr", got)
	}
	if rc.Locale() != language.French {
		t.Errorf("request locale = %v", rc.Locale())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "fr" {
		t.Errorf("unexpected cookies %v", cookies)
	}

	rec = httptest.NewRecorder()
	_ = c.SetLocale(rec, r, language.Und)
	if got := c.ResolveLocale(r); got != language.Und {
		t.Errorf("expected cleared locale, got %v", got)
	}
	if ck := rec.Result().Cookies(); len(ck) != 1 || ck[0].MaxAge >= 0 {
		t.Errorf("expected cookie removal, got %v", ck)
	}
}

func TestFixedThemeResolver(t *testing.T) {
	f := FixedThemeResolver{Name: "dark"}
	if f.ResolveThemeName(nil) != "dark" {
		t.Error("unexpected theme")
	}
	if err := f.SetThemeName(nil, nil, "light"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestChangeInterceptor(t *testing.T) {
	c := NewCookieResolver(nil)
	ic := &ChangeInterceptor{Param: "lang"}

	r := httptest.NewRequest(http.MethodGet, "/?lang=de", http.NoBody)
	rc := mvc.NewRequestContext(nil)
	rc.Publish(nil, c, nil, nil)
	r = r.WithContext(mvc.WithRequestContext(r.Context(), rc))

	ok, err := ic.PreHandle(httptest.NewRecorder(), r, nil)
	if !ok || err != nil {
		t.Fatalf("PreHandle = (%v, %v)", ok, err)
	}
	if c.ResolveLocale(r) != language.German {
		t.Errorf("locale not switched")
	}

	bad := httptest.NewRequest(http.MethodGet, "/?lang=!!", http.NoBody)
	ok, err = ic.PreHandle(httptest.NewRecorder(), bad, nil)
	if ok || mvc.StatusCodeOf(err) != http.StatusBadRequest {
		t.Errorf("expected 400, got (%v, %v)", ok, err)
	}

	none := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if ok, _ := ic.PreHandle(httptest.NewRecorder(), none, nil); !ok {
		t.Error("request without parameter must pass")
	}
}
