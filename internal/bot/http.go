package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bazibot/internal/models"
	"bazibot/internal/storage"
)

// initDataMaxAge bounds how old a Mini App initData may be
const initDataMaxAge = 24 * time.Hour

type ctxKey int

const userIDKey ctxKey = iota

// HTTPServer handles HTTP requests for the Mini App
type HTTPServer struct {
	bot     *Bot
	devMode bool // If true, accept ?user_id= instead of initData for local dev
	now     func() time.Time
}

// NewHTTPServer creates a new HTTP server for the Mini App. devMode must only
// be set in development: it trusts the user id from the query string.
func NewHTTPServer(bot *Bot, devMode bool) *HTTPServer {
	return &HTTPServer{
		bot:     bot,
		devMode: devMode,
		now:     time.Now,
	}
}

// RegisterRoutes registers Mini App routes on the provided router
func (hs *HTTPServer) RegisterRoutes(r chi.Router) {
	r.With(hs.authMiddleware).Get("/api/profile", hs.handleProfile)
}

// ProfileResponse is the Mini App view of a user's card
type ProfileResponse struct {
	UserID      int64               `json:"user_id"`
	Name        string              `json:"name"`
	BirthDate   string              `json:"birth_date,omitempty"`
	BirthTime   string              `json:"birth_time,omitempty"`
	BirthCity   string              `json:"birth_city,omitempty"`
	Chart       *models.ChartResult `json:"chart,omitempty"`
	HasChart    bool                `json:"has_chart"`
	LastUpdated time.Time           `json:"updated_at"`
}

// validateTelegramInitData validates the Telegram Mini App initData and
// returns the user id it carries
func (hs *HTTPServer) validateTelegramInitData(initData string) (int64, error) {
	if initData == "" {
		return 0, errors.New("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, errors.New("missing hash in initData")
	}
	values.Del("hash")

	expected := signInitData(hs.bot.token, values)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return 0, errors.New("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, errors.New("missing auth_date")
	}
	if hs.now().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, errors.New("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, errors.New("missing user data")
	}
	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}

	if !hs.bot.isAllowed(userData.ID) {
		return 0, errors.New("user not allowed")
	}
	return userData.ID, nil
}

// signInitData computes the initData hash: HMAC-SHA256 over the sorted
// key=value lines, keyed by HMAC-SHA256("WebAppData", token).
func signInitData(token string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// authMiddleware validates Telegram Mini App authentication.
// In dev mode the user id is taken from the user_id query parameter; the
// allow-list applies either way.
func (hs *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hs.devMode {
			userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "user_id query parameter is required in dev mode")
				return
			}
			if !hs.bot.isAllowed(userID) {
				hs.bot.logger.Warn("User not allowed", zap.Int64("user_id", userID))
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			hs.bot.logger.Debug("Skipping authentication (dev mode)",
				zap.String("path", r.URL.Path),
				zap.Int64("user_id", userID),
			)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "tma ") {
			hs.bot.logger.Warn("Missing or invalid authorization header")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := hs.validateTelegramInitData(strings.TrimPrefix(authHeader, "tma "))
		if err != nil {
			hs.bot.logger.Warn("Failed to validate initData",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		hs.bot.logger.Debug("Authenticated request",
			zap.Int64("user_id", userID),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// handleProfile returns the caller's profile and chart
func (hs *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userIDKey).(int64)

	profile, err := hs.bot.profiles.GetProfile(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		hs.bot.logger.Error("Failed to load profile", zap.Int64("user_id", userID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to fetch profile")
		return
	}

	name := profile.ContactName
	if name == "" {
		name = profile.DisplayName
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfileResponse{
		UserID:      profile.UserID,
		Name:        name,
		BirthDate:   profile.BirthDate,
		BirthTime:   profile.BirthTime,
		BirthCity:   profile.BirthCity,
		Chart:       profile.Chart,
		HasChart:    profile.Chart != nil,
		LastUpdated: profile.UpdatedAt,
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
