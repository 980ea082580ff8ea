package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/auth"
	"github.com/zaihebian/LeadGenNewVersion/internal/config"
)

type AuthHandler struct {
	operator  config.OperatorConfig
	jwtSecret string
	logger    *zap.Logger
}

func NewAuthHandler(operator config.OperatorConfig, jwtSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		operator:  operator,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates the operator and returns a session token.
// POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Username != h.operator.Username || !auth.CheckPassword(req.Password, h.operator.PasswordHash) {
		h.logger.Warn("Failed login attempt", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateJWT(req.Username, h.jwtSecret)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
