package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
)

const (
	feedCacheControl    = "public, s-maxage=60, stale-while-revalidate=120"
	postCacheControl    = "public, s-maxage=300"
	// Réponse propre au porteur du jeton : jamais dans un cache partagé
	privateCacheControl = "private, max-age=0, must-revalidate"

	maxBodyBytes = 1 << 20
)

// Observer reçoit une mesure par requête (Prometheus en prod)
type Observer interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

type Options struct {
	AllowedOrigins []string
	Metrics        http.Handler // exposé sur /metrics si non nil
	Observer       Observer
}

type Handler struct {
	feed     ports.FeedService
	commands ports.CommandService
}

func NewHandler(feed ports.FeedService, commands ports.CommandService) *Handler {
	return &Handler{feed: feed, commands: commands}
}

// Routes enregistre l'API sur un mux Go 1.22 (méthode + wildcard)
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", h.getFeed)
	mux.HandleFunc("GET /posts/{id}", h.getPost)
	mux.HandleFunc("POST /posts", h.createPost)
	mux.HandleFunc("DELETE /posts/{id}", h.deletePost)
	mux.HandleFunc("POST /posts/{id}/like", h.toggleLike)
	mux.HandleFunc("POST /posts/{id}/bookmark", h.toggleBookmark)
	mux.HandleFunc("PUT /users/{id}/follow", h.follow)
	mux.HandleFunc("DELETE /users/{id}/follow", h.unfollow)
	return mux
}

// NewRouter assemble la chaîne : otelhttp -> CORS -> auth -> métriques -> API
func NewRouter(h *Handler, auth *Authenticator, opts Options) http.Handler {
	var api http.Handler = h.Routes()

	if opts.Observer != nil {
		api = observe(opts.Observer, api)
	}

	// A. Auth (injecte le Requester)
	api = auth.Middleware(api)

	// B. CORS
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "sentry-trace"},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: true,
	})
	api = c.Handler(api)

	// C. OTEL HTTP (Racine)
	api = otelhttp.NewHandler(api, "campus-feed", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))

	root := http.NewServeMux()
	root.Handle("/", api)
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if opts.Metrics != nil {
		root.Handle("GET /metrics", opts.Metrics)
	}
	return root
}

// --- Lecture ---

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scope := domain.GlobalScope()
	if id := strings.TrimSpace(q.Get("communityId")); id != "" {
		scope = domain.CommunityScope(id)
	}

	filter, sortBy, err := domain.ParseFilter(scope, q.Get("filter"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "offset must be a non-negative integer"})
			return
		}
	}

	res, err := h.feed.GetFeed(r.Context(), domain.FeedRequest{
		Scope:     scope,
		Filter:    filter,
		Sort:      sortBy,
		Offset:    offset,
		Requester: ForContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	setCacheHeaders(w, r, res.Hit, feedCacheControl)
	writeJSON(w, http.StatusOK, toPostDTOs(res.Posts))
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	res, err := h.feed.GetPost(r.Context(), r.PathValue("id"), ForContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	setCacheHeaders(w, r, res.Hit, postCacheControl)
	writeJSON(w, http.StatusOK, toPostDTO(res.Post))
}

// --- Écriture ---

type createPostRequest struct {
	Content      string   `json:"content"`
	ImageURLs    []string `json:"image_urls"`
	VideoURL     string   `json:"video_url"`
	CommunityTag string   `json:"community_tag"`
	CommunityID  string   `json:"community_id"`
	IsAnonymous  bool     `json:"is_anonymous"`
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}

	var body createPostRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	post, err := h.commands.CreatePost(r.Context(), domain.NewPost{
		AuthorID:     requester.ID,
		Content:      body.Content,
		ImageURLs:    body.ImageURLs,
		VideoURL:     body.VideoURL,
		CommunityTag: body.CommunityTag,
		CommunityID:  body.CommunityID,
		IsAnonymous:  body.IsAnonymous,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	post.Author = post.VisibleAuthor(requester.ID)
	writeJSON(w, http.StatusCreated, toPostDTO(post))
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}
	if err := h.commands.DeletePost(r.Context(), r.PathValue("id"), requester.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleLike(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}
	liked, err := h.commands.ToggleLike(r.Context(), r.PathValue("id"), requester.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

func (h *Handler) toggleBookmark(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}
	saved, err := h.commands.ToggleBookmark(r.Context(), r.PathValue("id"), requester.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"bookmarked": saved})
}

func (h *Handler) follow(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}
	if err := h.commands.Follow(r.Context(), requester.ID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unfollow(w http.ResponseWriter, r *http.Request) {
	requester, ok := mustAuth(w, r)
	if !ok {
		return
	}
	if err := h.commands.Unfollow(r.Context(), requester.ID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func mustAuth(w http.ResponseWriter, r *http.Request) (*domain.Requester, bool) {
	requester := ForContext(r.Context())
	if requester == nil || requester.ID == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
		return nil, false
	}
	return requester, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func setCacheHeaders(w http.ResponseWriter, r *http.Request, hit bool, cacheControl string) {
	status := "MISS"
	if hit {
		status = "HIT"
	}
	if ForContext(r.Context()) != nil {
		cacheControl = privateCacheControl
	}
	w.Header().Set("X-Cache", status)
	w.Header().Set("Cache-Control", cacheControl)
	// La réponse personnalisée dépend du jeton
	w.Header().Set("Vary", "Authorization")
}

// writeError traduit les erreurs du domaine en statut HTTP
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, domain.ErrInvalidFilter),
		errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, domain.ErrSourceUnavailable):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "feed temporarily unavailable"})
	default:
		slog.ErrorContext(r.Context(), "❌ Unhandled error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// statusRecorder capture le code de réponse pour les métriques
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func observe(o Observer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// r.Pattern est renseigné par le mux après le routage
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		o.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
	})
}
