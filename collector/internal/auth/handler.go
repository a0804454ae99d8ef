package auth

import (
	"encoding/json"
	"net/http"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// Handler 认证处理器，用户表来自配置文件，值为bcrypt哈希
type Handler struct {
	jwtAuth *JWTAuth
	users   map[string]string
}

// NewHandler 创建认证处理器
func NewHandler(jwtAuth *JWTAuth, users map[string]string) *Handler {
	return &Handler{
		jwtAuth: jwtAuth,
		users:   users,
	}
}

// Login 登录处理
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hash, exists := h.users[req.Username]
	if !exists || !CheckPassword(req.Password, hash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.jwtAuth.GenerateToken(req.Username)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.jwtAuth.SetTokenCookie(w, token)

	response := LoginResponse{
		Token:     token,
		UserID:    req.Username,
		ExpiresIn: int64(h.jwtAuth.TokenExpiry().Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Logout 登出处理
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.jwtAuth.ClearTokenCookie(w)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logged out successfully"})
}
