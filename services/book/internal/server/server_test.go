package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"bookshelf/pkg/domain"
	"bookshelf/services/book/internal/app"
)

type testEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.App == nil {
		appCore, err := app.New(app.Config{})
		if err != nil {
			t.Fatalf("init app: %v", err)
		}
		cfg.App = appCore
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = -1
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("init server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv.Router()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env testEnvelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func decodeData(t *testing.T, env testEnvelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func createBook(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	rec, env := doRequest(t, h, http.MethodPost, "/books", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var data struct {
		BookID string `json:"bookId"`
	}
	decodeData(t, env, &data)
	if data.BookID == "" {
		t.Fatalf("expected bookId in %s", env.Data)
	}
	return data.BookID
}

func TestCreateAndGetBook(t *testing.T) {
	h := newTestHandler(t, Config{})

	rec, env := doRequest(t, h, http.MethodPost, "/books", `{
		"name": "Alif", "year": 2010, "author": "A", "summary": "S",
		"publisher": "P", "pageCount": 100, "readPage": 100, "reading": false
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if env.Status != "success" || env.Message != "Book added successfully" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	var created struct {
		BookID string        `json:"bookId"`
		Books  []domain.Book `json:"books"`
	}
	decodeData(t, env, &created)
	if created.BookID == "" || len(created.Books) != 1 {
		t.Fatalf("unexpected create payload: %s", env.Data)
	}

	rec, env = doRequest(t, h, http.MethodGet, "/books/"+created.BookID, "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("get status = %d, env = %+v", rec.Code, env)
	}
	var got struct {
		Book map[string]any `json:"book"`
	}
	decodeData(t, env, &got)
	if got.Book["id"] != created.BookID || got.Book["name"] != "Alif" {
		t.Fatalf("unexpected book: %v", got.Book)
	}
	if got.Book["finished"] != true {
		t.Fatalf("finished = %v, want true", got.Book["finished"])
	}
	if got.Book["insertedAt"] != got.Book["updatedAt"] {
		t.Fatalf("insertedAt %v != updatedAt %v", got.Book["insertedAt"], got.Book["updatedAt"])
	}
	for _, key := range []string{"year", "author", "summary", "publisher", "pageCount", "readPage", "reading"} {
		if _, ok := got.Book[key]; !ok {
			t.Fatalf("book missing field %q", key)
		}
	}
}

func TestCreateBookFailures(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{"missing name", `{"pageCount": 10, "readPage": 1}`, "Failed to add book. Please fill in the book name"},
		{"empty name", `{"name": "", "pageCount": 10}`, "Failed to add book. Please fill in the book name"},
		{"read page exceeds", `{"name": "X", "pageCount": 50, "readPage": 60}`, "Failed to add book. readPage must not be greater than pageCount"},
		{"negative pages", `{"name": "X", "pageCount": -5, "readPage": -10}`, "Failed to add book. pageCount and readPage must not be negative"},
		{"invalid json", `{"name":`, "Failed to add book. Invalid JSON body"},
		{"wrong type", `{"name": 5}`, "Failed to add book. Invalid JSON body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, Config{})
			rec, env := doRequest(t, h, http.MethodPost, "/books", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if env.Status != "fail" || env.Message != tc.message {
				t.Fatalf("envelope = %+v, want message %q", env, tc.message)
			}

			_, list := doRequest(t, h, http.MethodGet, "/books", "")
			var data struct {
				Books []domain.BookSummary `json:"books"`
			}
			decodeData(t, list, &data)
			if len(data.Books) != 0 {
				t.Fatalf("rejected create stored a book: %v", data.Books)
			}
		})
	}
}

func TestCreateBookRejectsOversizedBody(t *testing.T) {
	h := newTestHandler(t, Config{MaxBodyBytes: 32})
	body := `{"name": "` + strings.Repeat("a", 64) + `"}`
	rec, env := doRequest(t, h, http.MethodPost, "/books", body)
	if rec.Code != http.StatusBadRequest || env.Status != "fail" {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
}

func TestGetUnknownBook(t *testing.T) {
	h := newTestHandler(t, Config{})
	rec, env := doRequest(t, h, http.MethodGet, "/books/nonexistent", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Status != "fail" || env.Message != "Book not found" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestUpdateBook(t *testing.T) {
	h := newTestHandler(t, Config{})
	id := createBook(t, h, `{"name": "Alif", "pageCount": 100, "readPage": 100}`)

	rec, env := doRequest(t, h, http.MethodPut, "/books/"+id, `{"name": "Alif Revised", "pageCount": 200, "readPage": 20, "reading": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env.Status != "success" || env.Message != "Book updated successfully" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var data struct {
		Books []domain.Book `json:"books"`
	}
	decodeData(t, env, &data)
	if len(data.Books) != 1 {
		t.Fatalf("books = %v", data.Books)
	}
	book := data.Books[0]
	if book.ID != id || book.Name != "Alif Revised" || book.Finished || !book.Reading {
		t.Fatalf("unexpected updated book: %+v", book)
	}
}

func TestUpdateBookFailures(t *testing.T) {
	h := newTestHandler(t, Config{})
	id := createBook(t, h, `{"name": "Alif", "pageCount": 10}`)

	cases := []struct {
		name    string
		target  string
		body    string
		code    int
		message string
	}{
		{"missing name", "/books/" + id, `{"pageCount": 10}`, http.StatusBadRequest, "Failed to update book. Please fill in the book name"},
		{"read page exceeds", "/books/" + id, `{"name": "X", "pageCount": 50, "readPage": 60}`, http.StatusBadRequest, "Failed to update book. readPage must not be greater than pageCount"},
		{"negative pages", "/books/" + id, `{"name": "X", "pageCount": 5, "readPage": -1}`, http.StatusBadRequest, "Failed to update book. pageCount and readPage must not be negative"},
		{"invalid json", "/books/" + id, `nope`, http.StatusBadRequest, "Failed to update book. Invalid JSON body"},
		{"unknown id", "/books/missing", `{"name": "X"}`, http.StatusNotFound, "Failed to update book. Id not found"},
		{"validation before lookup", "/books/missing", `{"name": ""}`, http.StatusBadRequest, "Failed to update book. Please fill in the book name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := doRequest(t, h, http.MethodPut, tc.target, tc.body)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if env.Status != "fail" || env.Message != tc.message {
				t.Fatalf("envelope = %+v, want message %q", env, tc.message)
			}
		})
	}

	_, env := doRequest(t, h, http.MethodGet, "/books/"+id, "")
	var got struct {
		Book domain.Book `json:"book"`
	}
	decodeData(t, env, &got)
	if got.Book.Name != "Alif" {
		t.Fatalf("failed updates modified the book: %+v", got.Book)
	}
}

func TestDeleteBookTwice(t *testing.T) {
	h := newTestHandler(t, Config{})
	id := createBook(t, h, `{"name": "Alif"}`)

	rec, env := doRequest(t, h, http.MethodDelete, "/books/"+id, "")
	if rec.Code != http.StatusOK || env.Status != "success" || env.Message != "Book deleted successfully" {
		t.Fatalf("first delete: status = %d, env = %+v", rec.Code, env)
	}
	if len(env.Data) != 0 {
		t.Fatalf("delete response carries data: %s", env.Data)
	}

	rec, env = doRequest(t, h, http.MethodDelete, "/books/"+id, "")
	if rec.Code != http.StatusNotFound || env.Message != "Failed to delete book. Id not found" {
		t.Fatalf("second delete: status = %d, env = %+v", rec.Code, env)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/books/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d", rec.Code)
	}
}

func TestListBooksFilters(t *testing.T) {
	h := newTestHandler(t, Config{})
	createBook(t, h, `{"name": "Dicoding Academy", "publisher": "Dicoding", "pageCount": 100, "readPage": 25, "reading": true}`)
	createBook(t, h, `{"name": "Clean Code", "publisher": "PH", "pageCount": 400, "readPage": 400, "reading": false}`)
	createBook(t, h, `{"name": "Go in Action", "publisher": "Manning", "pageCount": 300, "readPage": 300, "reading": true}`)

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"Dicoding Academy", "Clean Code", "Go in Action"}},
		{"?name=DICODING", []string{"Dicoding Academy"}},
		{"?name=co", []string{"Dicoding Academy", "Clean Code"}},
		{"?reading=1", []string{"Dicoding Academy", "Go in Action"}},
		{"?reading=0", []string{"Clean Code"}},
		{"?reading=2", []string{"Dicoding Academy", "Go in Action"}},
		{"?reading=", []string{"Dicoding Academy", "Clean Code", "Go in Action"}},
		{"?finished=1", []string{"Clean Code", "Go in Action"}},
		{"?finished=0", []string{"Dicoding Academy"}},
		{"?reading=1&finished=1", []string{"Go in Action"}},
		{"?name=go&reading=0", []string{}},
		{"?name=nothing", []string{}},
	}
	for _, tc := range cases {
		t.Run("query"+tc.query, func(t *testing.T) {
			rec, env := doRequest(t, h, http.MethodGet, "/books"+tc.query, "")
			if rec.Code != http.StatusOK || env.Status != "success" {
				t.Fatalf("status = %d, env = %+v", rec.Code, env)
			}
			if len(tc.want) == 0 && !bytes.Contains(env.Data, []byte(`"books":[]`)) {
				t.Fatalf("empty result must serialize as an empty array, got %s", env.Data)
			}
			var data struct {
				Books []map[string]any `json:"books"`
			}
			decodeData(t, env, &data)
			if len(data.Books) != len(tc.want) {
				t.Fatalf("got %d books, want %v", len(data.Books), tc.want)
			}
			for i, book := range data.Books {
				if book["name"] != tc.want[i] {
					t.Fatalf("book %d = %v, want %q", i, book["name"], tc.want[i])
				}
				if len(book) != 3 {
					t.Fatalf("summary has fields %v, want id, name, publisher", book)
				}
			}
		})
	}
}

func TestRateLimitMutatingRoutes(t *testing.T) {
	h := newTestHandler(t, Config{RateLimitPerMinute: 2})

	createBook(t, h, `{"name": "one"}`)
	createBook(t, h, `{"name": "two"}`)

	rec, env := doRequest(t, h, http.MethodPost, "/books", `{"name": "three"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if env.Status != "fail" || env.Message != "Too many requests" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want time until the next token", got)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/books", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, status = %d", rec.Code)
	}
}

func TestRateLimitWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newTestHandler(t, Config{RateLimitPerMinute: 1, RedisAddr: mr.Addr()})

	createBook(t, h, `{"name": "one"}`)
	rec, _ := doRequest(t, h, http.MethodDelete, "/books/anything", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After at window start = %q, want 60", got)
	}

	mr.FastForward(45 * time.Second)
	rec, _ = doRequest(t, h, http.MethodPut, "/books/anything", `{"name": "x"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "15" {
		t.Fatalf("Retry-After 45s into window = %q, want 15", got)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "1"},
		{300 * time.Millisecond, "1"},
		{15 * time.Second, "15"},
		{29*time.Second + 999*time.Millisecond, "30"},
		{time.Minute, "60"},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.in); got != tc.want {
			t.Fatalf("retryAfterSeconds(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	appCore, err := app.New(app.Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	t.Cleanup(func() { _ = appCore.Close() })
	h := newTestHandler(t, Config{App: appCore})

	id := createBook(t, h, `{"name": "Alif"}`)
	if rec, _ := doRequest(t, h, http.MethodDelete, "/books/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec, env := doRequest(t, h, http.MethodGet, "/events", "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d, env = %+v", rec.Code, env)
	}
	if !eventTimePattern.Match(env.Data) {
		t.Fatalf("event times should use the millisecond book format: %s", env.Data)
	}
	var data struct {
		Events []domain.Event `json:"events"`
	}
	decodeData(t, env, &data)
	if len(data.Events) != 2 {
		t.Fatalf("events = %+v", data.Events)
	}
	if data.Events[0].Type != domain.EventBookDeleted || data.Events[1].Type != domain.EventBookCreated {
		t.Fatalf("events not newest first: %+v", data.Events)
	}
	if data.Events[0].BookID != id || data.Events[0].Name != "Alif" {
		t.Fatalf("unexpected event: %+v", data.Events[0])
	}

	_, env = doRequest(t, h, http.MethodGet, "/events?limit=1", "")
	decodeData(t, env, &data)
	if len(data.Events) != 1 {
		t.Fatalf("limit=1 returned %d events", len(data.Events))
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		rec, env = doRequest(t, h, http.MethodGet, "/events?limit="+raw, "")
		if rec.Code != http.StatusBadRequest || env.Message != "Invalid limit" {
			t.Fatalf("limit=%s: status = %d, env = %+v", raw, rec.Code, env)
		}
	}
}

var eventTimePattern = regexp.MustCompile(`"at":"\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z"`)

func TestEventsWithoutRedis(t *testing.T) {
	h := newTestHandler(t, Config{})
	createBook(t, h, `{"name": "Alif"}`)

	rec, env := doRequest(t, h, http.MethodGet, "/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(env.Data, []byte(`"events":[]`)) {
		t.Fatalf("expected empty events, got %s", env.Data)
	}
}

func TestFallbackRoutes(t *testing.T) {
	h := newTestHandler(t, Config{})

	rec, env := doRequest(t, h, http.MethodGet, "/unknown", "")
	if rec.Code != http.StatusNotFound || env.Status != "fail" || env.Message != "Not found" {
		t.Fatalf("unknown route: status = %d, env = %+v", rec.Code, env)
	}

	rec, env = doRequest(t, h, http.MethodPatch, "/books/some-id", `{}`)
	if rec.Code != http.StatusMethodNotAllowed || env.Message != "Method not allowed" {
		t.Fatalf("wrong method: status = %d, env = %+v", rec.Code, env)
	}
}

func TestHealthAndMiddleware(t *testing.T) {
	h := newTestHandler(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("request id not propagated: %q", rec.Header().Get("X-Request-Id"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestRecoverPanic(t *testing.T) {
	s := &Server{}
	h := s.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != "error" {
		t.Fatalf("status field = %q, want error", env.Status)
	}
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
}

func TestNewRejectsBadTrustedProxies(t *testing.T) {
	appCore, err := app.New(app.Config{})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	if _, err := New(Config{App: appCore, TrustedProxies: []string{"not-an-ip"}}); err == nil {
		t.Fatalf("expected error for invalid trusted proxy")
	}
}
