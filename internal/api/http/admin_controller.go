package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/repository"
)

// AdminController flips account status columns; it issues no credentials.
type AdminController struct {
	users repository.UserRepository
}

func NewAdminController(users repository.UserRepository) *AdminController {
	return &AdminController{users: users}
}

func pagination(ctx *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(ctx.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (c *AdminController) ListUsers(ctx *gin.Context) {
	limit, offset := pagination(ctx)
	users, err := c.users.List(ctx.Request.Context(), limit, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"users": users, "limit": limit, "offset": offset})
}

func (c *AdminController) ListPending(ctx *gin.Context) {
	limit, offset := pagination(ctx)
	users, err := c.users.ListByStatus(ctx.Request.Context(), domain.UserStatusPending, limit, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending users"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"users": users, "limit": limit, "offset": offset})
}

func (c *AdminController) Approve(ctx *gin.Context) {
	c.setStatus(ctx, domain.UserStatusActive)
}

func (c *AdminController) Reject(ctx *gin.Context) {
	c.setStatus(ctx, domain.UserStatusRejected)
}

func (c *AdminController) setStatus(ctx *gin.Context, status domain.UserStatus) {
	id := ctx.Param("id")
	if id == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	if err := c.users.SetStatus(ctx.Request.Context(), id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}
