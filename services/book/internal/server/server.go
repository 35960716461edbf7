package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/pkg/domain"
	"bookshelf/services/book/internal/app"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultEventLimit   = 20
	maxEventLimit       = 100
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	Limiter            ratelimit.Limiter
	RedisAddr          string
	RedisPassword      string
	RateLimitPerMinute int
	TrustedProxies     []string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
}

// Server exposes HTTP endpoints for the book service.
type Server struct {
	app          *app.App
	limiter      ratelimit.Limiter
	trusted      *util.TrustedProxies
	corsOrigins  []string
	router       chi.Router
	maxBodyBytes int64
}

// New constructs the server with routes configured. Mutating routes are
// rate limited through Redis when an address is configured and in process
// otherwise; a negative limit disables rate limiting.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	limiter := cfg.Limiter
	if limiter == nil && cfg.RateLimitPerMinute > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bookshelf:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		} else {
			limiter, err = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
		}
		if err != nil {
			return nil, fmt.Errorf("init rate limiter: %w", err)
		}
	}
	s := &Server{
		app:          cfg.App,
		limiter:      limiter,
		trusted:      trusted,
		corsOrigins:  cfg.CORSAllowedOrigins,
		maxBodyBytes: maxBodyBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("book", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.router))))
}

// Close releases the rate limiter backend, if any.
func (s *Server) Close() error {
	if closer, ok := s.limiter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.recoverPanic)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)

	// books
	r.Route("/books", func(r chi.Router) {
		r.Get("/", s.handleListBooks)
		r.With(s.rateLimit).Post("/", s.handleCreateBook)
		r.Get("/{bookId}", s.handleGetBook)
		r.With(s.rateLimit).Put("/{bookId}", s.handleUpdateBook)
		r.With(s.rateLimit).Delete("/{bookId}", s.handleDeleteBook)
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var in domain.BookInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeFail(w, http.StatusBadRequest, createMessages.prefix+". Invalid JSON body")
		return
	}
	id, books, err := s.app.CreateBook(r.Context(), in)
	if err != nil {
		writeBookError(w, createMessages, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Status:  statusSuccess,
		Message: "Book added successfully",
		Data: map[string]any{
			"bookId": id,
			"books":  books,
		},
	})
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ListFilter{
		Name:     query.Get("name"),
		Reading:  domain.ParseFlag(query.Get("reading")),
		Finished: domain.ParseFlag(query.Get("finished")),
	}
	books := slices.Collect(s.app.ListBooks(r.Context(), filter))
	if books == nil {
		books = []domain.BookSummary{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Status: statusSuccess,
		Data:   map[string]any{"books": books},
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetBook(r.Context(), chi.URLParam(r, "bookId"))
	if err != nil {
		writeBookError(w, getMessages, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Status: statusSuccess,
		Data:   map[string]any{"book": book},
	})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var in domain.BookInput
	if err := s.decodeBody(w, r, &in); err != nil {
		writeFail(w, http.StatusBadRequest, updateMessages.prefix+". Invalid JSON body")
		return
	}
	books, err := s.app.UpdateBook(r.Context(), chi.URLParam(r, "bookId"), in)
	if err != nil {
		writeBookError(w, updateMessages, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Message: "Book updated successfully",
		Data:    map[string]any{"books": books},
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteBook(r.Context(), chi.URLParam(r, "bookId")); err != nil {
		writeBookError(w, deleteMessages, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Status:  statusSuccess,
		Message: "Book deleted successfully",
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeFail(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := s.app.RecentEvents(r.Context(), limit)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("read events failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Status: statusError, Message: "Failed to read events"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Status: statusSuccess,
		Data:   map[string]any{"events": events},
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "write|" + util.ClientIP(r, s.trusted)
		if d := s.limiter.Reserve(key); !d.Allowed {
			w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
			writeFail(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds renders d as whole seconds, rounded up, never below one.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	return strconv.FormatInt(max(secs, 1), 10)
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			util.LoggerFromContext(r.Context()).Error("handler panic", "panic", rec, "stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, envelope{Status: statusError, Message: "Internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
