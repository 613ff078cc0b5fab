package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meshcall/core/internal/identity"
)

type AuthController struct {
	identity *identity.Service
}

func NewAuthController(svc *identity.Service) *AuthController {
	return &AuthController{identity: svc}
}

func (c *AuthController) Register(ctx *gin.Context) {
	type RegisterRequest struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}
	var req RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	user, token, err := c.identity.Register(ctx.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUsernameTaken) {
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (c *AuthController) Login(ctx *gin.Context) {
	type LoginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	user, token, err := c.identity.Login(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, identity.ErrPendingApproval), errors.Is(err, identity.ErrRejected):
			ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}
