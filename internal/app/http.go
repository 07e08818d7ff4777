package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/ai"
	"blogdesk/api/internal/export"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/media"
	"blogdesk/api/internal/search"
	"blogdesk/api/internal/store"
	"blogdesk/api/internal/util"
)

const (
	headerVoterID  = "X-Voter-ID"
	headerUserName = "X-User-Name"
)

type HTTPServer struct {
	service *Service
	cors    *cors.Cors
	aiLimit *ipLimiter
	log     *logrus.Entry
}

func NewHTTPServer(service *Service, logger logrus.FieldLogger) *HTTPServer {
	origins := []string{"*"}
	if origin := strings.TrimSpace(service.cfg.CORSOrigin); origin != "" {
		origins = strings.Split(origin, ",")
	}
	return &HTTPServer{
		service: service,
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", headerVoterID, headerUserName},
			ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
			MaxAge:         600,
		}),
		aiLimit: newIPLimiter(service.cfg.AIRatePerMinute),
		log:     logging.Component(logger, "http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("GET /api/posts/{id}", s.handleGetPost)
	mux.HandleFunc("PATCH /api/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("GET /api/posts/{id}/revisions", s.handleRevisions)
	mux.HandleFunc("GET /api/posts/{id}/revisions/{hash}", s.handleRevision)
	mux.HandleFunc("GET /api/posts/{id}/export", s.handleExport)

	mux.HandleFunc("GET /api/search", s.handleSearch)

	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)

	mux.Handle("POST /api/ai/rewrite", s.aiLimit.middleware(http.HandlerFunc(s.handleRewrite)))
	mux.Handle("POST /api/ai/enhance", s.aiLimit.middleware(http.HandlerFunc(s.handleEnhance)))

	mux.HandleFunc("POST /api/polls/{pollId}/vote", s.handleVote)
	mux.HandleFunc("GET /api/polls/{pollId}/vote", s.handleVoteRecord)

	mux.HandleFunc("POST /api/uploads/images", s.handleUploadImage)

	return s.withMiddleware(s.cors.Handler(mux))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	posts, err := s.service.ListPosts(r.Context(), store.PostFilter{
		BlogID: q.Get("blogId"),
		Status: q.Get("status"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if posts == nil {
		posts = []store.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": posts})
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var body CreatePostInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	post, err := s.service.CreatePost(r.Context(), body, r.Header.Get(headerUserName))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *HTTPServer) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.service.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var body UpdatePostInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	post, err := s.service.UpdatePost(r.Context(), r.PathValue("id"), body, r.Header.Get(headerUserName))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.PostRevisions(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleRevision(w http.ResponseWriter, r *http.Request) {
	snap, rev, err := s.service.PostRevision(r.Context(), r.PathValue("id"), r.PathValue("hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revision":    rev,
		"title":       snap.Title,
		"slug":        snap.Slug,
		"status":      snap.Status,
		"contentHtml": snap.ContentHTML,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil)
		return
	}
	result, err := s.service.Export(r.Context(), export.Request{
		PostID:   r.PathValue("id"),
		Revision: r.URL.Query().Get("revision"),
		Format:   format,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := s.service.Search(r.Context(), search.Query{
		Text:   strings.TrimSpace(q.Get("q")),
		BlogID: q.Get("blogId"),
		Status: q.Get("status"),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListTemplates(r.Context(), r.URL.Query().Get("blogId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []store.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body CreateTemplateInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tpl, err := s.service.CreateTemplate(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *HTTPServer) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var body ai.RewriteRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Rewrite(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (s *HTTPServer) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var body ai.EnhanceRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	enhanced, err := s.service.Enhance(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"enhanced": enhanced})
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request) {
	var body VoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tally, err := s.service.Vote(r.Context(), r.PathValue("pollId"), body, strings.TrimSpace(r.Header.Get(headerVoterID)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (s *HTTPServer) handleVoteRecord(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("pollId")
	rec, ok, err := s.service.VoteRecord(r.Context(), pollID, strings.TrimSpace(r.Header.Get(headerVoterID)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no vote recorded", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(1<<20))
	contentType := r.Header.Get("Content-Type")

	var data []byte
	var err error
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart upload needs a file field", nil)
			return
		}
		defer file.Close()
		contentType = header.Header.Get("Content-Type")
		data, err = io.ReadAll(file)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "image exceeds the upload limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read upload", nil)
		return
	}

	url, err := s.service.UploadImage(r.Context(), data, contentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = util.NewID("")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", reqID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  reqID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
