// Package server provides the rest-like api over the paste collection
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	um "github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/pasta-sh/pasta/app/keeper"
	"github.com/pasta-sh/pasta/app/store"
)

// Config is a configuration for the server
type Config struct {
	Listen   string // address:port to listen on
	AuthHash string // bcrypt hash gating uploads, empty disables auth
	ListAPI  bool   // expose the public listing endpoint
}

// Keeper is the paste collection the server fronts
type Keeper interface {
	Create(ctx context.Context, req keeper.NewPastaRequest) (*store.Pasta, error)
	Get(ctx context.Context, encodedID, password string) (*store.Pasta, error)
	GetURL(ctx context.Context, encodedID string) (string, error)
	GetFile(ctx context.Context, encodedID, password string) (data []byte, name string, err error)
	Edit(ctx context.Context, encodedID, password, content string) error
	Delete(ctx context.Context, encodedID, password string) error
	List(ctx context.Context, includePrivate bool) []*store.Pasta
	TempDir() string
	MaxFileBytes(encrypted bool) uint64
	EncodeID(id uint64) string
}

// Server is a rest with keeper
type Server struct {
	keeper  Keeper
	cfg     Config
	version string
}

// New creates a new server
func New(k Keeper, version string, cfg Config) Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return Server{keeper: k, cfg: cfg, version: version}
}

// Run the listener and request's router, activate rest server
func (s Server) Run(ctx context.Context) error {
	log.Printf("[INFO] activate rest server on %s", s.cfg.Listen)

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if clsErr := httpServer.Close(); clsErr != nil {
			log.Printf("[ERROR] failed to close http server, %v", clsErr)
		}
	}()

	err := httpServer.ListenAndServe()
	log.Printf("[WARN] http server terminated, %s", err)

	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(um.RealIP, um.Recoverer(log.Default()))
	router.Use(um.AppInfo("pasta", "pasta-sh", s.version), um.Ping)
	router.Use(um.Throttle(1000))
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(10, nil)))
	router.Use(Logger(log.Default()))

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.With(s.authRequired).HandleFunc("POST /pasta", s.createPastaCtrl)
		api.HandleFunc("GET /pasta/{id}", s.getPastaCtrl)
		api.With(s.authRequired, um.SizeLimit(1024*1024)).HandleFunc("PUT /pasta/{id}", s.editPastaCtrl)
		api.With(s.authRequired).HandleFunc("DELETE /pasta/{id}", s.deletePastaCtrl)
		api.HandleFunc("GET /list", s.listCtrl)
	})

	router.HandleFunc("GET /raw/{id}", s.rawCtrl)
	router.HandleFunc("GET /url/{id}", s.redirectCtrl)
	router.HandleFunc("GET /file/{id}/{name}", s.fileCtrl)

	router.HandleFunc("GET /robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /api/\nDisallow: /raw/\nDisallow: /url/\nDisallow: /file/\n"))
	})

	return router
}

// POST /api/v1/pasta
func (s Server) createPastaCtrl(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseCreateRequest(r)
	if err != nil {
		s.sendError(w, r, err, "can't parse pasta request")
		return
	}

	p, err := s.keeper.Create(r.Context(), req)
	if err != nil {
		s.sendError(w, r, err, "can't create pasta")
		return
	}

	encoded := s.keeper.EncodeID(p.ID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	um.RenderJSON(w, JSON{"id": encoded, "url": "/api/v1/pasta/" + encoded, "expiration": p.ExpirationString()})
}

// GET /api/v1/pasta/{id}?password=...
func (s Server) getPastaCtrl(w http.ResponseWriter, r *http.Request) {
	p, err := s.keeper.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get("password"))
	if err != nil {
		s.sendError(w, r, err, "can't get pasta")
		return
	}
	um.RenderJSON(w, s.pastaJSON(p))
}

// PUT /api/v1/pasta/{id}
func (s Server) editPastaCtrl(w http.ResponseWriter, r *http.Request) {
	request := struct {
		Content  string `json:"content"`
		Password string `json:"password"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Printf("[WARN] can't bind edit request, %v", err)
		um.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't parse edit request")
		return
	}

	if err := s.keeper.Edit(r.Context(), r.PathValue("id"), request.Password, request.Content); err != nil {
		s.sendError(w, r, err, "can't edit pasta")
		return
	}
	um.RenderJSON(w, JSON{"updated": true})
}

// DELETE /api/v1/pasta/{id}?password=...
func (s Server) deletePastaCtrl(w http.ResponseWriter, r *http.Request) {
	if err := s.keeper.Delete(r.Context(), r.PathValue("id"), r.URL.Query().Get("password")); err != nil {
		s.sendError(w, r, err, "can't delete pasta")
		return
	}
	um.RenderJSON(w, JSON{"deleted": true})
}

// GET /api/v1/list
// Private pastas show up only for an authenticated admin.
func (s Server) listCtrl(w http.ResponseWriter, r *http.Request) {
	admin := s.cfg.AuthHash != "" && s.checkBasicAuth(r)
	if !s.cfg.ListAPI && !admin {
		um.SendErrorJSON(w, r, log.Default(), http.StatusForbidden, errors.New("listing disabled"), "listing disabled")
		return
	}
	pastas := s.keeper.List(r.Context(), admin)
	res := make([]JSON, 0, len(pastas))
	for _, p := range pastas {
		entry := JSON{
			"id":         s.keeper.EncodeID(p.ID),
			"type":       p.Type,
			"created":    p.CreatedString(),
			"expiration": p.ExpirationString(),
			"last_read":  p.LastReadAgo(time.Now()),
			"protected":  p.Protected(),
		}
		if p.File != nil {
			entry["file"] = p.File.Name
			entry["size"] = p.File.SizeString()
		}
		res = append(res, entry)
	}
	um.RenderJSON(w, res)
}

// GET /raw/{id}?password=...
func (s Server) rawCtrl(w http.ResponseWriter, r *http.Request) {
	p, err := s.keeper.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get("password"))
	if err != nil {
		s.sendError(w, r, err, "can't get pasta")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(p.Content))
}

// GET /url/{id}
func (s Server) redirectCtrl(w http.ResponseWriter, r *http.Request) {
	target, err := s.keeper.GetURL(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendError(w, r, err, "can't resolve url pasta")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// GET /file/{id}/{name}?password=...
func (s Server) fileCtrl(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.keeper.GetFile(r.Context(), r.PathValue("id"), r.URL.Query().Get("password"))
	if err != nil {
		s.sendError(w, r, err, "can't get attachment")
		return
	}
	if r.PathValue("name") != name {
		s.sendError(w, r, keeper.ErrNotFound, "can't get attachment")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// parseCreateRequest decodes the multipart creation form, streaming an
// attached file into the keeper's temp dir so the request body never
// lands in memory
func (s Server) parseCreateRequest(r *http.Request) (keeper.NewPastaRequest, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return keeper.NewPastaRequest{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	req := keeper.NewPastaRequest{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.discardUpload(&req)
			return keeper.NewPastaRequest{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}

		if part.FormName() == "file" {
			if err := s.saveUpload(part, &req); err != nil {
				s.discardUpload(&req)
				return keeper.NewPastaRequest{}, err
			}
			continue
		}

		value, err := formValue(part)
		if err != nil {
			s.discardUpload(&req)
			return keeper.NewPastaRequest{}, err
		}

		switch part.FormName() {
		case "content":
			req.Content = value
		case "extension":
			req.Extension = value
		case "expiration":
			req.Expiration = value
		case "burn_after_reads":
			if value != "" {
				n, err := strconv.ParseUint(value, 10, 64)
				if err != nil {
					s.discardUpload(&req)
					return keeper.NewPastaRequest{}, fmt.Errorf("%w: bad burn_after_reads %q", errBadRequest, value)
				}
				req.BurnAfterReads = n
			}
		case "custom_alias":
			req.Alias = value
		case "private":
			req.Private = formBool(value)
		case "readonly":
			req.Readonly = formBool(value)
		case "editable":
			req.Editable = formBool(value)
		case "encrypt_server":
			req.EncryptServer = formBool(value)
		case "encrypt_client":
			req.EncryptClient = formBool(value)
		case "encrypted_key":
			req.EncryptedKey = value
		case "password":
			req.Password = value
		}
	}
	return req, nil
}

// saveUpload streams the file part to a temp file next to the data dir.
// The cap applied here is the larger of the two configured ceilings, the
// keeper re-checks against the exact one once the encryption mode is known.
func (s Server) saveUpload(part *multipart.Part, req *keeper.NewPastaRequest) error {
	if part.FileName() == "" {
		return nil // empty file input on the form
	}

	tmp, err := os.CreateTemp(s.keeper.TempDir(), "upload-*")
	if err != nil {
		return fmt.Errorf("create temp upload: %w", err)
	}

	maxBytes := s.keeper.MaxFileBytes(false)
	if enc := s.keeper.MaxFileBytes(true); enc > maxBytes {
		maxBytes = enc
	}
	written, err := io.Copy(tmp, io.LimitReader(part, int64(maxBytes)+1)) //nolint:gosec // caps are config values well below overflow
	if clsErr := tmp.Close(); clsErr != nil && err == nil {
		err = clsErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("stream upload: %w", err)
	}
	if uint64(written) > maxBytes {
		_ = os.Remove(tmp.Name())
		return keeper.ErrSizeExceeded
	}

	req.FileName = part.FileName()
	req.FilePath = tmp.Name()
	req.FileSize = uint64(written)
	return nil
}

func (s Server) discardUpload(req *keeper.NewPastaRequest) {
	if req.FilePath != "" {
		_ = os.Remove(req.FilePath)
	}
}

func (s Server) pastaJSON(p *store.Pasta) JSON {
	res := JSON{
		"id":         s.keeper.EncodeID(p.ID),
		"content":    p.Content,
		"extension":  p.Extension,
		"type":       p.Type,
		"editable":   p.Editable,
		"created":    p.Created,
		"expiration": p.Expiration,
		"read_count": p.ReadCount,
	}
	if p.Alias != "" {
		res["custom_alias"] = p.Alias
	}
	if p.EncryptClient {
		res["encrypt_client"] = true
		res["encrypted_key"] = p.EncryptedKey
	}
	if p.File != nil {
		res["file"] = p.File.Name
		res["size"] = p.File.SizeString()
		res["embeddable"] = p.Embeddable()
	}
	return res
}

var errBadRequest = errors.New("bad request")

// sendError maps keeper failures to http statuses, one place for the whole api
func (s Server) sendError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, keeper.ErrNotURL):
		status = http.StatusBadRequest
	case errors.Is(err, keeper.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, keeper.ErrPasswordRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, keeper.ErrWrongPassword):
		status = http.StatusForbidden
	case errors.Is(err, keeper.ErrNotEditable):
		status = http.StatusMethodNotAllowed
	case errors.Is(err, keeper.ErrSizeExceeded):
		status = http.StatusRequestEntityTooLarge
	}
	um.SendErrorJSON(w, r, log.Default(), status, err, msg)
}

// JSON is a map alias, just for convenience
type JSON map[string]any

func formValue(r io.Reader) (string, error) {
	// form fields are small, attachments go through the file part
	const maxFieldSize = 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(r, maxFieldSize))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", err)
	}
	return string(data), nil
}

func formBool(value string) bool {
	return value == "true" || value == "on" || value == "1"
}
