package mvc

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

// recordingInterceptor appends "<name>.<phase>" to a shared log.
type recordingInterceptor struct {
	name    string
	log     *[]string
	allow   bool
	preErr  error
	postErr error
}

func (ri *recordingInterceptor) PreHandle(http.ResponseWriter, *http.Request, any) (bool, error) {
	*ri.log = append(*ri.log, ri.name+".pre")
	return ri.allow, ri.preErr
}

func (ri *recordingInterceptor) PostHandle(http.ResponseWriter, *http.Request, any, *ModelAndView) error {
	*ri.log = append(*ri.log, ri.name+".post")
	return ri.postErr
}

func (ri *recordingInterceptor) AfterCompletion(http.ResponseWriter, *http.Request, any, error) error {
	*ri.log = append(*ri.log, ri.name+".after")
	return errors.New("ignored")
}

func newChain(log *[]string, allow ...bool) *HandlerExecutionChain {
	names := []string{"a", "b", "c"}
	ics := make([]Interceptor, 0, len(allow))
	for i, ok := range allow {
		ics = append(ics, &recordingInterceptor{name: names[i], log: log, allow: ok})
	}
	return NewHandlerExecutionChain("handler", ics...)
}

func TestChainOrdering(t *testing.T) {
	var log []string
	c := newChain(&log, true, true, true)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)

	ok, err := c.ApplyPreHandle(w, r)
	if !ok || err != nil {
		t.Fatalf("ApplyPreHandle = %v, %v", ok, err)
	}
	if err := c.ApplyPostHandle(w, r, NewModelAndView("v")); err != nil {
		t.Fatal(err)
	}
	c.TriggerAfterCompletion(w, r, nil)

	want := []string{"a.pre", "b.pre", "c.pre", "c.post", "b.post", "a.post", "c.after", "b.after", "a.after"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("got %v, want %v", log, want)
	}
}

func TestChainPreHandleFalseCompletesPassedInterceptors(t *testing.T) {
	var log []string
	c := newChain(&log, true, false, true)
	ok, err := c.ApplyPreHandle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if ok || err != nil {
		t.Fatalf("ApplyPreHandle = %v, %v", ok, err)
	}
	want := []string{"a.pre", "b.pre", "a.after"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("got %v, want %v", log, want)
	}
}

func TestChainAfterCompletionRunsOnce(t *testing.T) {
	var log []string
	c := newChain(&log, true, true)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if _, err := c.ApplyPreHandle(w, r); err != nil {
		t.Fatal(err)
	}
	c.TriggerAfterCompletion(w, r, nil)
	c.TriggerAfterCompletion(w, r, nil)

	count := 0
	for _, e := range log {
		if e == "a.after" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected a.after once, got %d in %v", count, log)
	}
}

func TestChainPreHandleError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	c := NewHandlerExecutionChain("h",
		&recordingInterceptor{name: "a", log: &log, allow: true},
		&recordingInterceptor{name: "b", log: &log, allow: true, preErr: boom},
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	ok, err := c.ApplyPreHandle(w, r)
	if ok || !errors.Is(err, boom) {
		t.Fatalf("ApplyPreHandle = %v, %v", ok, err)
	}
	c.TriggerAfterCompletion(w, r, err)
	want := []string{"a.pre", "b.pre", "a.after"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("got %v, want %v", log, want)
	}
}

func TestWithPrependedKeepsOriginal(t *testing.T) {
	var log []string
	orig := newChain(&log, true)
	extra := &recordingInterceptor{name: "x", log: &log, allow: true}
	c := orig.WithPrepended(extra)
	if len(orig.Interceptors()) != 1 || len(c.Interceptors()) != 2 {
		t.Fatalf("unexpected lengths: orig=%d new=%d", len(orig.Interceptors()), len(c.Interceptors()))
	}
	if c.Interceptors()[0] != Interceptor(extra) {
		t.Error("prepended interceptor must come first")
	}
}

func TestModelAndViewStates(t *testing.T) {
	mv := NewModelAndView("")
	if !mv.IsEmpty() {
		t.Error("new ModelAndView without name should be empty")
	}
	mv.AddObject("k", 1)
	if mv.IsEmpty() {
		t.Error("model attribute makes it non-empty")
	}
	mv.Clear()
	if !mv.WasCleared() {
		t.Error("expected cleared")
	}
	mv.SetViewName("home")
	if mv.WasCleared() {
		t.Error("setting a view name after Clear revives it")
	}
	if !mv.IsReference() || !mv.HasView() {
		t.Error("expected view reference")
	}
}

func TestModelOrder(t *testing.T) {
	m := NewModel().Set("b", 1).Set("a", 2).Set("b", 3)
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("keys = %v", got)
	}
	if v, _ := m.Get("b"); v != 3 {
		t.Errorf("b = %v", v)
	}
	m.Merge(map[string]any{"a": 9, "c": 4})
	if v, _ := m.Get("a"); v != 2 {
		t.Errorf("merge must not overwrite, a = %v", v)
	}
	m.Delete("b")
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("keys after delete = %v", got)
	}
}
