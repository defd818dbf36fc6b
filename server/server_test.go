package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"productfinder/blobstore"
	"productfinder/database"
	"productfinder/imageprocessor"
	"productfinder/index"
	"productfinder/types"
)

type fakeMatcher struct {
	err         error
	gotExclude  map[int64]bool
	invalidated bool
	snapshot    *index.Index
}

func (m *fakeMatcher) Identify(_ context.Context, data []byte, exclude map[int64]bool) (*types.Identification, *imageprocessor.Result, error) {
	m.gotExclude = exclude
	if m.err != nil {
		return nil, nil, m.err
	}
	best := types.Match{EntryID: 7, ProductID: 3, StorageKey: "ref/apple/1.png"}
	return &types.Identification{
			Best:       best,
			Product:    &types.Product{ID: 3, Name: "apple"},
			Candidates: types.QueryResult{best},
			Quality:    0.9,
		}, &imageprocessor.Result{
			Quality: imageprocessor.Quality{Score: 0.9, Details: map[string]string{"area": "good"}},
		}, nil
}

func (m *fakeMatcher) Rebuild(context.Context) (*index.Index, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *fakeMatcher) Invalidate() error {
	m.invalidated = true
	return nil
}

func (m *fakeMatcher) Snapshot() *index.Index { return m.snapshot }

type fakeRegistrar struct {
	products map[int64]bool
	entries  map[string]int64
	nextID   int64
}

func (c *fakeRegistrar) Product(_ context.Context, id int64) (*types.Product, error) {
	if !c.products[id] {
		return nil, database.ErrProductNotFound
	}
	return &types.Product{ID: id}, nil
}

func (c *fakeRegistrar) EntryExists(_ context.Context, key string) (bool, error) {
	_, ok := c.entries[key]
	return ok, nil
}

func (c *fakeRegistrar) AddEntry(_ context.Context, productID int64, key string) (int64, error) {
	c.nextID++
	c.entries[key] = productID
	return c.nextID, nil
}

func confirm(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/identify/confirm", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func upload(t *testing.T, field, filename string, data []byte, exclude string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	if exclude != "" {
		mw.WriteField("exclude", exclude)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/identify", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestIdentify_Success(t *testing.T) {
	m := &fakeMatcher{}
	uploads, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := NewHandler(m, uploads, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, upload(t, "image", "photo.PNG", []byte("img"), "4, 9"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp IdentifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Identification.Best.ProductID != 3 || resp.Identification.Product.Name != "apple" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Analysis.Quality != 0.9 || resp.Analysis.QualityDetails["area"] != "good" {
		t.Fatalf("unexpected analysis %+v", resp.Analysis)
	}
	if !reflect.DeepEqual(m.gotExclude, map[int64]bool{4: true, 9: true}) {
		t.Fatalf("exclude = %v", m.gotExclude)
	}
	if want := blobstore.ContentKey("queries", []byte("img"), ".png"); resp.QueryKey != want {
		t.Fatalf("query key %q, want %q", resp.QueryKey, want)
	}
	if got, err := uploads.Get(context.Background(), resp.QueryKey); err != nil || string(got) != "img" {
		t.Fatalf("query image not stored: %v", err)
	}
}

func TestIdentify_RequestErrors(t *testing.T) {
	h := NewHandler(&fakeMatcher{}, nil, nil)
	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"no file", upload(t, "", "", nil, ""), http.StatusBadRequest, CodeNoFile},
		{"wrong field", upload(t, "file", "a.png", []byte("x"), ""), http.StatusBadRequest, CodeNoFile},
		{"bad type", upload(t, "image", "a.pdf", []byte("x"), ""), http.StatusBadRequest, CodeInvalidFileType},
		{"no extension", upload(t, "image", "photo", []byte("x"), ""), http.StatusBadRequest, CodeInvalidFileType},
		{"bad exclude", upload(t, "image", "a.png", []byte("x"), "1,abc"), http.StatusBadRequest, CodeInvalidExclude},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader("x")), http.StatusBadRequest, CodeNoFile},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/identify", nil), http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, tc.req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		if e := decodeError(t, rec); e.Code != tc.code || e.Success {
			t.Fatalf("%s: code %q, want %q", tc.name, e.Code, tc.code)
		}
	}
}

func TestIdentify_TooLarge(t *testing.T) {
	h := NewHandler(&fakeMatcher{}, nil, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, upload(t, "image", "big.png", make([]byte, MaxUploadSize+1), ""))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d, want 413", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != CodeFileTooLarge {
		t.Fatalf("code %q", e.Code)
	}
}

func TestIdentify_MatcherErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("decode: %w", imageprocessor.ErrInvalidInput), http.StatusBadRequest, CodeInvalidImage},
		{imageprocessor.ErrNoObject, http.StatusUnprocessableEntity, CodeNoObject},
		{index.ErrCatalogEmpty, http.StatusNotFound, CodeNoCatalogData},
		{&index.DimensionMismatchError{Want: 10, Got: 4}, http.StatusConflict, CodeDimensionMismatch},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		h := NewHandler(&fakeMatcher{err: tc.err}, nil, nil)
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, upload(t, "image", "a.jpg", []byte("x"), ""))
		if rec.Code != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, rec.Code, tc.status)
		}
		if e := decodeError(t, rec); e.Code != tc.code {
			t.Fatalf("%v: code %q, want %q", tc.err, e.Code, tc.code)
		}
	}
}

func TestHealthAndIndexEndpoints(t *testing.T) {
	ix, err := index.Build([]types.CatalogEntry{{EntryID: 1, ProductID: 1}}, [][]float64{{1, 2}}, "fp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m := &fakeMatcher{snapshot: ix}
	mux := NewHandler(m, nil, nil).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "healthy" || health["index_loaded"] != true || health["entries"] != float64(1) {
		t.Fatalf("unexpected health %v", health)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index/rebuild", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"entries":1`) {
		t.Fatalf("rebuild: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index/invalidate", nil))
	if rec.Code != http.StatusOK || !m.invalidated {
		t.Fatalf("invalidate: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index/rebuild", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET rebuild: status %d", rec.Code)
	}
}

func TestConfirm_RegistersQueryImage(t *testing.T) {
	uploads, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m := &fakeMatcher{}
	cat := &fakeRegistrar{products: map[int64]bool{3: true}, entries: map[string]int64{}}
	mux := NewHandler(m, uploads, cat).Routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, upload(t, "image", "photo.jpg", []byte("img"), ""))
	var ident IdentifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ident); err != nil || ident.QueryKey == "" {
		t.Fatalf("identify: %v %s", err, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, confirm(fmt.Sprintf(`{"product_id": 3, "query_key": %q}`, ident.QueryKey)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp ConfirmResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.EntryID != 1 || resp.ProductID != 3 || resp.StorageKey != ident.QueryKey {
		t.Fatalf("unexpected response %+v", resp)
	}
	if cat.entries[ident.QueryKey] != 3 {
		t.Fatalf("entry not registered: %v", cat.entries)
	}
	if !m.invalidated {
		t.Fatalf("index not invalidated after confirmation")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, confirm(fmt.Sprintf(`{"product_id": 3, "query_key": %q}`, ident.QueryKey)))
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != CodeAlreadyConfirmed {
		t.Fatalf("second confirm: %d %s", rec.Code, rec.Body.String())
	}
}

func TestConfirm_RequestErrors(t *testing.T) {
	uploads, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	stored := blobstore.ContentKey(QueryPrefix, []byte("img"), ".png")
	if err := uploads.Put(context.Background(), stored, []byte("img")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := uploads.Put(context.Background(), "ref/apple/1.png", []byte("ref")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	cat := &fakeRegistrar{products: map[int64]bool{3: true}, entries: map[string]int64{}}
	mux := NewHandler(&fakeMatcher{}, uploads, cat).Routes()
	missing := blobstore.ContentKey(QueryPrefix, []byte("other"), ".png")

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"not json", confirm("{"), http.StatusBadRequest, CodeInvalidRequest},
		{"no product", confirm(fmt.Sprintf(`{"query_key": %q}`, stored)), http.StatusBadRequest, CodeInvalidRequest},
		{"no key", confirm(`{"product_id": 3}`), http.StatusBadRequest, CodeInvalidRequest},
		{"reference key", confirm(`{"product_id": 3, "query_key": "ref/apple/1.png"}`), http.StatusBadRequest, CodeInvalidRequest},
		{"escaping key", confirm(`{"product_id": 3, "query_key": "queries/../ref/apple/1.png"}`), http.StatusBadRequest, CodeInvalidRequest},
		{"unknown product", confirm(fmt.Sprintf(`{"product_id": 8, "query_key": %q}`, stored)), http.StatusNotFound, CodeProductNotFound},
		{"unknown query", confirm(fmt.Sprintf(`{"product_id": 3, "query_key": %q}`, missing)), http.StatusNotFound, CodeQueryNotFound},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/identify/confirm", nil), http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, tc.req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.status, rec.Body.String())
		}
		if e := decodeError(t, rec); e.Code != tc.code {
			t.Fatalf("%s: code %q, want %q", tc.name, e.Code, tc.code)
		}
	}
	if len(cat.entries) != 0 {
		t.Fatalf("rejected requests registered entries: %v", cat.entries)
	}

	rec := httptest.NewRecorder()
	NewHandler(&fakeMatcher{}, nil, nil).Routes().ServeHTTP(rec, confirm(fmt.Sprintf(`{"product_id": 3, "query_key": %q}`, stored)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("confirm without catalog: status %d", rec.Code)
	}
}
