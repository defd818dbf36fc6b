// Package server exposes product identification over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"productfinder/blobstore"
	"productfinder/database"
	"productfinder/imageprocessor"
	"productfinder/index"
	"productfinder/logging"
	"productfinder/types"
	"productfinder/utils"
)

// MaxUploadSize bounds the multipart body of /identify.
const MaxUploadSize = 16 << 20

// QueryPrefix is the storage key prefix of uploaded query images.
const QueryPrefix = "queries"

const maxConfirmBody = 64 << 10

// Error codes reported in JSON error bodies.
const (
	CodeNoFile            = "NO_FILE"
	CodeEmptyFilename     = "EMPTY_FILENAME"
	CodeInvalidFileType   = "INVALID_FILE_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidImage      = "INVALID_IMAGE"
	CodeInvalidExclude    = "INVALID_EXCLUDE"
	CodeNoObject          = "NO_OBJECT"
	CodeNoCatalogData     = "NO_CATALOG_DATA"
	CodeDimensionMismatch = "DIMENSION_MISMATCH"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
	CodeQueryNotFound     = "QUERY_NOT_FOUND"
	CodeAlreadyConfirmed  = "ALREADY_CONFIRMED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// Identifier is the matcher behaviour the handlers need.
type Identifier interface {
	Identify(ctx context.Context, data []byte, exclude map[int64]bool) (*types.Identification, *imageprocessor.Result, error)
	Rebuild(ctx context.Context) (*index.Index, error)
	Invalidate() error
	Snapshot() *index.Index
}

// Registrar adds confirmed query images to the catalog.
type Registrar interface {
	Product(ctx context.Context, id int64) (*types.Product, error)
	EntryExists(ctx context.Context, storageKey string) (bool, error)
	AddEntry(ctx context.Context, productID int64, storageKey string) (int64, error)
}

// Handler serves the identification API.
type Handler struct {
	matcher Identifier
	uploads blobstore.Store
	catalog Registrar
}

// NewHandler returns a handler. uploads may be nil; otherwise every query
// image is kept under a content-derived key. Confirming a query needs both
// uploads and catalog.
func NewHandler(matcher Identifier, uploads blobstore.Store, catalog Registrar) *Handler {
	return &Handler{matcher: matcher, uploads: uploads, catalog: catalog}
}

// Routes registers the endpoints on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(h.Health))
	mux.HandleFunc("/identify", enableCORS(h.Identify))
	mux.HandleFunc("/identify/confirm", enableCORS(h.Confirm))
	mux.HandleFunc("/index/rebuild", h.RebuildIndex)
	mux.HandleFunc("/index/invalidate", h.InvalidateIndex)
	return mux
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.LogInfo("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logging.LogInfo("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// Analysis is the diagnostic part of an identify response.
type Analysis struct {
	Quality          float64                 `json:"quality"`
	QualityDetails   map[string]string       `json:"quality_details"`
	ShapeDescription string                  `json:"shape_description"`
	Geometry         imageprocessor.Geometry `json:"geometry"`
	ContourCount     int                     `json:"contour_count"`
	EdgeDensity      float64                 `json:"edge_density"`
	Parts            []imageprocessor.Part   `json:"parts"`
}

// NewAnalysis summarizes a pipeline result.
func NewAnalysis(res *imageprocessor.Result) Analysis {
	return Analysis{
		Quality:          res.Quality.Score,
		QualityDetails:   res.Quality.Details,
		ShapeDescription: res.Shape.Describe(),
		Geometry:         res.Geometry,
		ContourCount:     res.ContourCount,
		EdgeDensity:      res.EdgeDensity,
		Parts:            res.Parts,
	}
}

// IdentifyResponse is the body of a successful /identify call.
type IdentifyResponse struct {
	Success        bool                  `json:"success"`
	Identification *types.Identification `json:"identification"`
	Analysis       Analysis              `json:"analysis"`
	QueryKey       string                `json:"query_key,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError("Cannot write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// Health reports whether an index is loaded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "healthy", "index_loaded": false}
	if ix := h.matcher.Snapshot(); ix != nil {
		resp["index_loaded"] = true
		resp["entries"] = ix.Len()
		resp["dim"] = ix.Dim()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Identify accepts a multipart upload in field "image" and an optional
// comma separated "exclude" list of product ids.
func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}

	tooLarge := func() {
		writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
			fmt.Sprintf("file too large, maximum size is %dMB", MaxUploadSize>>20))
	}
	if r.ContentLength > MaxUploadSize {
		tooLarge()
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge()
			return
		}
		writeError(w, http.StatusBadRequest, CodeNoFile, "no file was sent, use 'image' as the form field name")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeNoFile, "no file was sent, use 'image' as the form field name")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, CodeEmptyFilename, "empty file name")
		return
	}
	format := imageprocessor.GetFileFormat(header.Filename)
	if format == imageprocessor.FormatUnknown {
		writeError(w, http.StatusBadRequest, CodeInvalidFileType,
			"file type not allowed, accepted types: "+strings.Join(imageprocessor.GetSupportedExtensions(), ", "))
		return
	}

	exclude, err := utils.ParseIDList(r.FormValue("exclude"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidExclude, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidImage, "cannot read the uploaded file")
		return
	}
	logging.DebugLog("Received %s (%d bytes), exclude=%v", header.Filename, len(data), exclude)

	id, res, err := h.matcher.Identify(r.Context(), data, exclude)
	if err != nil {
		h.identifyError(w, err)
		return
	}

	resp := IdentifyResponse{
		Success:        true,
		Identification: id,
		Analysis:       NewAnalysis(res),
	}
	if h.uploads != nil {
		key := blobstore.ContentKey(QueryPrefix, data, imageprocessor.FormatToExtension(format))
		if err := h.uploads.Put(r.Context(), key, data); err != nil {
			logging.LogWarning("Cannot store query image: %v", err)
		} else {
			resp.QueryKey = key
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) identifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imageprocessor.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, CodeInvalidImage, "cannot read the image: "+err.Error())
	case errors.Is(err, imageprocessor.ErrNoObject):
		writeError(w, http.StatusUnprocessableEntity, CodeNoObject, "no object detected in the image")
	case errors.Is(err, index.ErrCatalogEmpty):
		writeError(w, http.StatusNotFound, CodeNoCatalogData, "no catalog data to match against")
	case errors.Is(err, index.ErrDimensionMismatch):
		logging.LogError("Identify: %v", err)
		writeError(w, http.StatusConflict, CodeDimensionMismatch, err.Error())
	default:
		logging.LogError("Identify: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// ConfirmRequest is the body of /identify/confirm.
type ConfirmRequest struct {
	ProductID int64  `json:"product_id"`
	QueryKey  string `json:"query_key"`
}

// ConfirmResponse is the body of a successful /identify/confirm call.
type ConfirmResponse struct {
	Success    bool   `json:"success"`
	EntryID    int64  `json:"entry_id"`
	ProductID  int64  `json:"product_id"`
	StorageKey string `json:"storage_key"`
}

// Confirm registers a stored query image as a reference entry of a product
// and drops the loaded index so the next query includes it.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}
	if h.catalog == nil || h.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "confirmation needs a catalog and an upload store")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfirmBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.ProductID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "product_id must be a positive integer")
		return
	}
	key, err := blobstore.CleanKey(req.QueryKey)
	if err != nil || !strings.HasPrefix(key, QueryPrefix+"/") {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query_key must be a key returned by /identify")
		return
	}

	ctx := r.Context()
	if _, err := h.catalog.Product(ctx, req.ProductID); err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, CodeProductNotFound, fmt.Sprintf("product %d not found", req.ProductID))
			return
		}
		logging.LogError("Confirm: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if _, err := h.uploads.Get(ctx, key); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeQueryNotFound, "no stored query image under "+key)
			return
		}
		logging.LogError("Confirm: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	exists, err := h.catalog.EntryExists(ctx, key)
	if err != nil {
		logging.LogError("Confirm: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, CodeAlreadyConfirmed, key+" is already a catalog entry")
		return
	}

	entryID, err := h.catalog.AddEntry(ctx, req.ProductID, key)
	if err != nil {
		logging.LogError("Confirm: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	logging.LogInfo("Confirmed %s as entry %d of product %d", key, entryID, req.ProductID)
	if err := h.matcher.Invalidate(); err != nil {
		logging.LogWarning("Cannot invalidate index after confirming %s: %v", key, err)
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{Success: true, EntryID: entryID, ProductID: req.ProductID, StorageKey: key})
}

// RebuildIndex rebuilds the catalog index from the catalog.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}
	ix, err := h.matcher.Rebuild(r.Context())
	if err != nil {
		h.identifyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "entries": ix.Len(), "dim": ix.Dim()})
}

// InvalidateIndex drops the loaded index and its cache artifact.
func (h *Handler) InvalidateIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.matcher.Invalidate(); err != nil {
		logging.LogError("Invalidate: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "cannot invalidate the index cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
