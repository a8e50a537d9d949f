package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"EchoFM/config"
	"EchoFM/core/auth"
	"EchoFM/logger"
	"EchoFM/repository"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有REST API请求
type APIHandler struct {
	userRepo repository.UserRepository
	adRepo   repository.AdRepository
	cfg      *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	userRepo repository.UserRepository,
	adRepo repository.AdRepository,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		userRepo: userRepo,
		adRepo:   adRepo,
		cfg:      cfg,
	}
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		// Parse and validate the token
		claims, err := auth.ParseToken(parts[1], h.cfg.JWTSecret)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Add user info to the request context
		ctx := context.WithValue(r.Context(), "userID", claims.UserID)
		ctx = context.WithValue(ctx, "username", claims.Username)

		// Call the next handler with the updated context
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value("userID").(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value("username").(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// AdClickHandler 记录广告点击并返回跳转地址。点击计数不影响播放计数
func (h *APIHandler) AdClickHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	adID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid ad ID", http.StatusBadRequest)
		return
	}

	ad, err := h.adRepo.GetAdByID(adID)
	if err != nil {
		logger.Error("failed to load ad for click",
			logger.Int64("ad", adID),
			logger.ErrorField(err))
		http.Error(w, "Failed to load ad", http.StatusInternalServerError)
		return
	}
	if ad == nil {
		http.Error(w, "Ad not found", http.StatusNotFound)
		return
	}

	if err := h.adRepo.IncrementClickCount(adID); err != nil {
		// 计数失败不阻断跳转
		logger.Warn("failed to increment ad click count",
			logger.Int64("ad", adID),
			logger.ErrorField(err))
	}

	logger.Info("ad clicked", logger.Int64("ad", adID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"adId":      ad.ID,
		"targetUrl": ad.TargetURL,
	})
}

// HealthHandler 健康检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
