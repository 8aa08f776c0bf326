// Package offline serves the static UI through a response cache so the app
// shell keeps loading while the file backend is failing.
//
// GET requests are answered from the cache when possible and revalidated in
// the background. Requests with a "v" query parameter go to the backend
// first and fall back to the cache. Failed navigations fall back to the
// cached shell page. Anything else that fails answers 503.
package offline

import (
	"bytes"
	"context"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prefix starts every cache generation name.
const Prefix = "calm-todo-v"

// http.FileServer redirects /index.html to /, so the shell may sit under either.
var shellPaths = []string{"/index.html", "/"}

// DefaultMaxEntries caps how many paths one generation holds.
const DefaultMaxEntries = 1024

// Handler is the caching middleware.
type Handler struct {
	next       http.Handler
	cache      Cache
	gen        string
	maxEntries int
	log        *zap.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxEntries sets the per-generation entry cap. New paths past the cap
// are served but not stored.
func WithMaxEntries(n int) Option { return func(h *Handler) { h.maxEntries = n } }

// New wraps next with a cache generation named after version.
func New(next http.Handler, cache Cache, version string, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{next: next, cache: cache, gen: Prefix + version, maxEntries: DefaultMaxEntries, log: log, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Generation is the name of the active cache generation.
func (h *Handler) Generation() string { return h.gen }

// Warm fetches paths from the backend and stores the successful ones.
func (h *Handler) Warm(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
		if err != nil {
			return err
		}
		rec := h.fetch(req)
		if rec.status == http.StatusOK {
			if err := h.store(ctx, cacheKey(req), rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Purge drops every older generation and returns how many were removed.
func (h *Handler) Purge(ctx context.Context) (int, error) {
	gens, err := h.cache.Generations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range gens {
		if !strings.HasPrefix(g, Prefix) || g == h.gen {
			continue
		}
		if err := h.cache.DropGeneration(ctx, g); err != nil {
			return n, err
		}
		h.log.Info("dropped cache generation", zap.String("generation", g))
		n++
	}
	return n, nil
}

// Wait blocks until background revalidations finish.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.next.ServeHTTP(w, r)
		return
	}
	key := cacheKey(r)

	if r.URL.Query().Has("v") {
		h.networkFirst(w, r, key)
		return
	}

	if e, ok := h.lookup(r.Context(), key); ok {
		writeEntry(w, e, "HIT")
		h.revalidate(r, key)
		return
	}

	rec := h.fetch(r)
	if !rec.failed() {
		if rec.status == http.StatusOK {
			h.storeLogged(r.Context(), key, rec)
		}
		rec.writeTo(w, "MISS")
		return
	}
	if isNavigation(r) {
		for _, p := range shellPaths {
			if e, ok := h.lookup(r.Context(), p); ok {
				writeEntry(w, e, "SHELL")
				return
			}
		}
	}
	offline(w)
}

func (h *Handler) networkFirst(w http.ResponseWriter, r *http.Request, key string) {
	rec := h.fetch(r)
	if !rec.failed() {
		if rec.status == http.StatusOK {
			h.storeLogged(r.Context(), key, rec)
		}
		rec.writeTo(w, "MISS")
		return
	}
	if e, ok := h.lookup(r.Context(), key); ok {
		writeEntry(w, e, "HIT")
		return
	}
	offline(w)
}

func (h *Handler) revalidate(r *http.Request, key string) {
	req := r.Clone(context.WithoutCancel(r.Context()))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		rec := h.fetch(req)
		if rec.status == http.StatusOK {
			h.storeLogged(req.Context(), key, rec)
		}
	}()
}

func (h *Handler) lookup(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := h.cache.Get(ctx, h.gen, key)
	if err != nil {
		h.log.Warn("cache get", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	return e, ok
}

// cacheKey is the cleaned path. The query never selects a different file.
func cacheKey(r *http.Request) string {
	p := r.URL.Path
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func (h *Handler) store(ctx context.Context, key string, rec *recorder) error {
	if h.maxEntries > 0 {
		if _, ok, err := h.cache.Get(ctx, h.gen, key); err == nil && !ok {
			n, err := h.cache.Len(ctx, h.gen)
			if err != nil {
				return err
			}
			if n >= h.maxEntries {
				h.log.Debug("cache full", zap.String("key", key), zap.Int("entries", n))
				return nil
			}
		}
	}
	return h.cache.Put(ctx, h.gen, key, Entry{
		Status:   rec.status,
		Header:   rec.header.Clone(),
		Body:     bytes.Clone(rec.body.Bytes()),
		StoredAt: h.now(),
	})
}

func (h *Handler) storeLogged(ctx context.Context, key string, rec *recorder) {
	if err := h.store(ctx, key, rec); err != nil {
		h.log.Warn("cache put", zap.String("key", key), zap.Error(err))
	}
}

// fetch runs the backend into a recorder. A panic counts as a failure.
func (h *Handler) fetch(r *http.Request) (rec *recorder) {
	rec = newRecorder()
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("panic serving static file", zap.Any("panic", p), zap.String("path", r.URL.Path))
			rec = newRecorder()
			rec.status = http.StatusBadGateway
		}
	}()
	h.next.ServeHTTP(rec, r)
	return rec
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func offline(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Offline"))
}

func writeEntry(w http.ResponseWriter, e Entry, state string) {
	for k, vs := range e.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	w.Header().Set("X-Cache", state)
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// recorder captures a backend response in memory.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.wrote {
		return
	}
	r.status = status
	r.wrote = true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.body.Write(p)
}

func (r *recorder) failed() bool { return r.status >= 500 }

func (r *recorder) writeTo(w http.ResponseWriter, state string) {
	writeEntry(w, Entry{Status: r.status, Header: r.header, Body: r.body.Bytes()}, state)
}
