package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/webmvc/internal/adapter/handleradapter"
	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// errOrderNotFound is mapped to the "error" view with 404.
var errOrderNotFound = errors.New("order not found")

// errInvalidOrder is mapped to the "orders/new" form with 400.
var errInvalidOrder = errors.New("invalid order")

type order struct {
	ID        string
	Item      string
	Quantity  int
	CreatedAt time.Time
}

// orderBook is the in-memory store behind the demo routes. Watchers are
// deferred results completed by the next created order.
type orderBook struct {
	mu       sync.Mutex
	orders   []order
	updated  time.Time
	watchers []*mvc.DeferredResult
}

func newOrderBook() *orderBook {
	return &orderBook{updated: time.Now().Truncate(time.Second)}
}

func (b *orderBook) add(item string, qty int) order {
	o := order{ID: uuid.NewString(), Item: item, Quantity: qty, CreatedAt: time.Now()}

	b.mu.Lock()
	b.orders = append(b.orders, o)
	b.updated = o.CreatedAt.Truncate(time.Second)
	watchers := b.watchers
	b.watchers = nil
	b.mu.Unlock()

	for _, w := range watchers {
		w.SetResult(mvc.NewModelAndView("orders/show").AddObject("order", o))
	}
	return o
}

func (b *orderBook) list() []order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]order, len(b.orders))
	copy(out, b.orders)
	return out
}

func (b *orderBook) get(id string) (order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == id {
			return o, true
		}
	}
	return order{}, false
}

func (b *orderBook) lastModified() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updated
}

func (b *orderBook) watch(d *mvc.DeferredResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.watchers[:0]
	for _, w := range b.watchers {
		if !w.IsSetOrExpired() {
			live = append(live, w)
		}
	}
	b.watchers = append(live, d)
}

// orderList renders all orders and supports conditional GET.
type orderList struct {
	book *orderBook
}

var (
	_ handleradapter.Controller   = orderList{}
	_ handleradapter.LastModifier = orderList{}
)

func (l orderList) HandleRequest(_ http.ResponseWriter, _ *http.Request) (*mvc.ModelAndView, error) {
	// No view name: the translator derives "orders" from the path.
	mv := &mvc.ModelAndView{}
	mv.AddObject("orders", l.book.list())
	return mv, nil
}

func (l orderList) LastModified(*http.Request) time.Time {
	return l.book.lastModified()
}

func showOrder(book *orderBook) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) (any, error) {
		o, ok := book.get(mvc.PathVar(r, "id"))
		if !ok {
			return nil, fmt.Errorf("%w: %s", errOrderNotFound, mvc.PathVar(r, "id"))
		}
		return mvc.NewModelAndView("orders/show").AddObject("order", o), nil
	}
}

func latestOrder(book *orderBook) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, _ *http.Request) (any, error) {
		orders := book.list()
		if len(orders) == 0 {
			return nil, errOrderNotFound
		}
		return "forward:/orders/" + orders[len(orders)-1].ID, nil
	}
}

func createOrder(book *orderBook) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) (any, error) {
		item := strings.TrimSpace(r.PostFormValue("item"))
		qty, err := strconv.Atoi(r.PostFormValue("quantity"))
		if item == "" || err != nil || qty < 1 {
			return nil, fmt.Errorf("%w: item and a positive quantity are required", errInvalidOrder)
		}
		o := book.add(item, qty)

		if rc := mvc.FromRequest(r); rc != nil {
			rc.OutputFlashMap().Put("message", fmt.Sprintf("Order %s created", o.ID))
		}
		return "redirect:/orders", nil
	}
}

// importOrders reads "item,quantity" lines from the uploaded "file" part.
func importOrders(book *orderBook) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) (any, error) {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidOrder, err)
		}
		defer func() { _ = f.Close() }()

		n := 0
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			item, qtyStr, ok := strings.Cut(sc.Text(), ",")
			if !ok {
				continue
			}
			qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
			if err != nil || qty < 1 || strings.TrimSpace(item) == "" {
				continue
			}
			book.add(strings.TrimSpace(item), qty)
			n++
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}

		if rc := mvc.FromRequest(r); rc != nil {
			rc.OutputFlashMap().Put("message", fmt.Sprintf("%d orders imported", n))
		}
		return "redirect:/orders", nil
	}
}

// orderSummary computes totals off the request goroutine.
func orderSummary(book *orderBook) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, _ *http.Request) (any, error) {
		return mvc.Callable(func(ctx context.Context) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			totals := make(map[string]int)
			for _, o := range book.list() {
				totals[o.Item] += o.Quantity
			}
			return mvc.NewModelAndView("reports/summary").AddObject("totals", totals), nil
		}), nil
	}
}

// nextOrder long-polls for the next created order.
func nextOrder(book *orderBook, timeout time.Duration) handleradapter.HandlerFunc {
	return func(_ http.ResponseWriter, _ *http.Request) (any, error) {
		d := mvc.NewDeferredResult(timeout).
			WithTimeoutValue(mvc.NewModelAndView("orders/none"))
		book.watch(d)
		return d, nil
	}
}

func staticView(name string) handleradapter.ControllerFunc {
	return func(http.ResponseWriter, *http.Request) (*mvc.ModelAndView, error) {
		return mvc.NewModelAndView(name), nil
	}
}
