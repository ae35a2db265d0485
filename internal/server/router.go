package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/generator"
	"github.com/boweazy/smartflow/internal/log"
	"github.com/boweazy/smartflow/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

func SetupRouter(r *chi.Mux, cfg *config.Config, st *store.FileStore, logger *log.Logger) {
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, _, _, err := st.Counts(); err != nil {
			logger.Error("Store health check failed", zap.Error(err))
			http.Error(w, "Store unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	r.With(requireFeature(cfg, "ai_scheduler", logger)).Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic string `json:"topic"`
			Tone  string `json:"tone"`
			Count int    `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode generate request", zap.Error(err))
			writeDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.Topic) < 2 {
			writeDetail(w, http.StatusBadRequest, "Topic must be at least 2 characters")
			return
		}
		if req.Tone == "" {
			req.Tone = "helpful"
		}
		if req.Count <= 0 {
			req.Count = 3
		}
		if req.Count > 10 {
			req.Count = 10
		}
		writeJSON(w, logger, generator.Generate(req.Topic, req.Tone, req.Count))
	})

	r.Post("/posts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Platform      string   `json:"platform"`
			Content       string   `json:"content"`
			Hashtags      []string `json:"hashtags"`
			ScheduledTime string   `json:"scheduled_time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode post request", zap.Error(err))
			writeDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Content == "" {
			writeDetail(w, http.StatusBadRequest, "Content cannot be empty")
			return
		}
		if req.Platform == "" {
			writeDetail(w, http.StatusBadRequest, "Platform is required")
			return
		}
		now := time.Now().UTC()
		when := now.Add(10 * time.Second)
		if req.ScheduledTime != "" {
			parsed, err := time.Parse(time.RFC3339, req.ScheduledTime)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, "scheduled_time must be RFC3339")
				return
			}
			when = parsed.UTC()
		}
		if when.Before(now) {
			writeDetail(w, http.StatusBadRequest, "scheduled_time must be in the future")
			return
		}
		saved, err := st.AddPost(store.Post{
			Platform:    req.Platform,
			Content:     req.Content,
			Hashtags:    req.Hashtags,
			Status:      store.StatusScheduled,
			ScheduledAt: when,
		})
		if err != nil {
			logger.Error("Failed to add post", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info("Scheduled post", zap.Int64("id", saved.ID), zap.String("platform", saved.Platform))
		writeJSON(w, logger, saved)
	})

	r.Get("/posts", func(w http.ResponseWriter, r *http.Request) {
		posts, err := st.ListPosts(r.URL.Query().Get("status"))
		if err != nil {
			logger.Error("Failed to list posts", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, posts)
	})

	r.Patch("/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid post id")
			return
		}
		var req struct {
			Status        string `json:"status"`
			ScheduledTime string `json:"scheduled_time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		posts, err := st.ListPosts("")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var current *store.Post
		for i := range posts {
			if posts[i].ID == id {
				current = &posts[i]
				break
			}
		}
		if current == nil {
			writeDetail(w, http.StatusNotFound, "Post not found")
			return
		}
		if store.Terminal(current.Status) {
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Post is %s and cannot change", current.Status))
			return
		}
		if req.Status != "" {
			if req.Status != store.StatusDraft && req.Status != store.StatusScheduled {
				writeDetail(w, http.StatusBadRequest, "Status must be draft or scheduled")
				return
			}
			current.Status = req.Status
		}
		if req.ScheduledTime != "" {
			parsed, err := time.Parse(time.RFC3339, req.ScheduledTime)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, "scheduled_time must be RFC3339")
				return
			}
			current.ScheduledAt = parsed.UTC()
		}
		if err := st.UpdatePost(*current); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeDetail(w, http.StatusNotFound, "Post not found")
				return
			}
			if errors.Is(err, store.ErrTerminal) {
				writeDetail(w, http.StatusConflict, "Post is terminal and cannot change")
				return
			}
			logger.Error("Failed to update post", zap.Error(err), zap.Int64("id", id))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, current)
	})

	r.With(requireFeature(cfg, "booking", logger)).Post("/bookings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CustomerName string `json:"customer_name"`
			Email        string `json:"email"`
			Phone        string `json:"phone"`
			Service      string `json:"service"`
			StartsAt     string `json:"starts_at"`
			Notes        string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("Failed to decode booking request", zap.Error(err))
			writeDetail(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.CustomerName == "" || req.Service == "" {
			writeDetail(w, http.StatusBadRequest, "customer_name and service are required")
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "starts_at must be RFC3339")
			return
		}
		if !startsAt.After(time.Now()) {
			writeDetail(w, http.StatusBadRequest, "starts_at must be in the future")
			return
		}
		if (cfg.EmailEnabled || cfg.SMSEnabled) && req.Email == "" && req.Phone == "" {
			writeDetail(w, http.StatusBadRequest, "email or phone is required for reminders")
			return
		}
		saved, err := st.AddBooking(store.Booking{
			CustomerName: req.CustomerName,
			Email:        req.Email,
			Phone:        req.Phone,
			Service:      req.Service,
			StartsAt:     startsAt.UTC(),
			Status:       store.StatusConfirmed,
			Notes:        req.Notes,
		})
		if err != nil {
			logger.Error("Failed to add booking", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info("Created booking", zap.Int64("id", saved.ID), zap.String("service", saved.Service))
		writeJSON(w, logger, saved)
	})

	r.With(requireFeature(cfg, "booking", logger)).Get("/bookings", func(w http.ResponseWriter, r *http.Request) {
		bookings, err := st.ListBookings(r.URL.Query().Get("status"))
		if err != nil {
			logger.Error("Failed to list bookings", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, bookings)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.JWTSecret, logger))

		r.Post("/auth/manual", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Platform     string `json:"platform"`
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeDetail(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			if req.Platform == "" || req.AccessToken == "" {
				writeDetail(w, http.StatusBadRequest, "platform and access_token are required")
				return
			}
			if err := st.SaveAccount(store.Account{
				Platform:     req.Platform,
				AccessToken:  req.AccessToken,
				RefreshToken: req.RefreshToken,
			}); err != nil {
				logger.Error("Failed to save account", zap.Error(err), zap.String("platform", req.Platform))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			logger.Info("Connected account", zap.String("platform", req.Platform))
			writeJSON(w, logger, map[string]interface{}{"ok": true, "platform": req.Platform})
		})

		r.Post("/admin/cleanup", func(w http.ResponseWriter, r *http.Request) {
			if err := st.CleanupBackups(cfg.BackupRetention); err != nil {
				logger.Error("Failed to clean up backups", zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			logger.Info("Cleaned up snapshot backups")
			w.Write([]byte("OK"))
		})
	})
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func requireFeature(cfg *config.Config, feature string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.HasFeature(feature) {
				logger.Warn("Feature not in plan", zap.String("feature", feature), zap.String("plan", cfg.Plan))
				writeDetail(w, http.StatusForbidden, fmt.Sprintf("Plan %q does not include %q", cfg.Plan, feature))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				logger.Error("Missing authorization token")
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Error("Invalid JWT token", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, token.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type claimsKey struct{}
