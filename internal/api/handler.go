package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kneutral-org/rating-service/internal/editor"
	"github.com/kneutral-org/rating-service/internal/lock"
	"github.com/kneutral-org/rating-service/internal/rating"
)

// RatingStore is the rating executor as seen by the API.
type RatingStore interface {
	WriteRating(ctx context.Context, ownerID, resourceID int64, value float64) (*rating.Rating, error)
	DeleteRating(ctx context.Context, ownerID, resourceID int64) (bool, error)
	GetRating(ctx context.Context, ownerID, resourceID int64) (*rating.Rating, error)
	ListUserRatings(ctx context.Context, ownerID int64) ([]*rating.Rating, error)
}

// Handler serves the /api/v1 routes.
type Handler struct {
	locks   *lock.Manager
	ratings RatingStore
	editor  *editor.Service
}

// NewHandler creates a new API handler.
func NewHandler(locks *lock.Manager, ratings RatingStore, edits *editor.Service) *Handler {
	return &Handler{locks: locks, ratings: ratings, editor: edits}
}

// RegisterRoutes registers all routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	locks := rg.Group("/locks")
	{
		locks.POST("/:key/acquire", h.AcquireLock)
		locks.POST("/:key/force", h.ForceLock)
		locks.GET("/:key", h.CheckLock)
		locks.DELETE("/:key", h.ReleaseLock)
	}

	ratings := rg.Group("/ratings")
	{
		ratings.PUT("/:ownerId/:resourceId", h.WriteRating)
		ratings.DELETE("/:ownerId/:resourceId", h.DeleteRating)
		ratings.GET("/:ownerId/:resourceId", h.GetRating)
	}

	rg.GET("/users/:ownerId/ratings", h.ListUserRatings)

	edits := rg.Group("/edits")
	{
		edits.GET("/status", h.EditStatus)
		edits.POST("/submit", h.SubmitEdit)
		edits.POST("/remove", h.RemoveEdit)
		edits.POST("/begin", h.BeginEdit)
		edits.POST("/end", h.EndEdit)
	}
}

// AcquireLock handles POST /locks/:key/acquire.
func (h *Handler) AcquireLock(c *gin.Context) {
	var req LockRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.locks.Acquire(c.Request.Context(), c.Param("key"), req.Holder)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := h.lockResponse(res.Record)
	resp.OK = res.Acquired
	resp.HeldBy = res.HeldBy
	if !res.Acquired {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ForceLock handles POST /locks/:key/force.
func (h *Handler) ForceLock(c *gin.Context) {
	var req LockRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.locks.ForceAcquire(c.Request.Context(), c.Param("key"), req.Holder)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := h.lockResponse(rec)
	resp.OK = true
	resp.HeldBy = rec.Holder
	c.JSON(http.StatusOK, resp)
}

// CheckLock handles GET /locks/:key?requester=.
func (h *Handler) CheckLock(c *gin.Context) {
	holder, err := h.locks.Check(c.Request.Context(), c.Param("key"), c.Query("requester"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := CheckResponse{}
	if holder != "" {
		resp.HeldBy = &holder
	}
	c.JSON(http.StatusOK, resp)
}

// ReleaseLock handles DELETE /locks/:key. With ?holder= it only releases a
// lock owned by that holder.
func (h *Handler) ReleaseLock(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("key")

	if holder := c.Query("holder"); holder != "" {
		released, err := h.locks.ReleaseIfHeld(ctx, key, holder)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, DeleteResponse{OK: released})
		return
	}

	if err := h.locks.Release(ctx, key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{OK: true})
}

// WriteRating handles PUT /ratings/:ownerId/:resourceId.
func (h *Handler) WriteRating(c *gin.Context) {
	ownerID, resourceID, ok := ratingIDs(c)
	if !ok {
		return
	}
	var req RatingRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.ratings.WriteRating(c.Request.Context(), ownerID, resourceID, *req.Value)
	if err != nil {
		if errors.Is(err, rating.ErrVerificationMismatch) {
			c.JSON(http.StatusConflict, RatingResponse{OK: false})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RatingResponse{OK: true, Rating: r})
}

// DeleteRating handles DELETE /ratings/:ownerId/:resourceId. Deleting a
// missing rating answers ok=false with 200.
func (h *Handler) DeleteRating(c *gin.Context) {
	ownerID, resourceID, ok := ratingIDs(c)
	if !ok {
		return
	}

	deleted, err := h.ratings.DeleteRating(c.Request.Context(), ownerID, resourceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{OK: deleted})
}

// GetRating handles GET /ratings/:ownerId/:resourceId.
func (h *Handler) GetRating(c *gin.Context) {
	ownerID, resourceID, ok := ratingIDs(c)
	if !ok {
		return
	}

	r, err := h.ratings.GetRating(c.Request.Context(), ownerID, resourceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ListUserRatings handles GET /users/:ownerId/ratings.
func (h *Handler) ListUserRatings(c *gin.Context) {
	ownerID, ok := pathID(c, "ownerId")
	if !ok {
		return
	}

	ratings, err := h.ratings.ListUserRatings(c.Request.Context(), ownerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if ratings == nil {
		ratings = []*rating.Rating{}
	}
	c.JSON(http.StatusOK, ratings)
}

// EditStatus handles GET /edits/status?movie=.
func (h *Handler) EditStatus(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}

	holder, err := h.editor.LockStatus(c.Request.Context(), sess, c.Query("movie"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := CheckResponse{}
	if holder != "" {
		resp.HeldBy = &holder
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitEdit handles POST /edits/submit.
func (h *Handler) SubmitEdit(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req EditRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Value == nil {
		badRequest(c, "value is required")
		return
	}

	r, err := h.editor.SubmitRating(c.Request.Context(), sess, req.Movie, *req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RatingResponse{OK: true, Rating: r})
}

// RemoveEdit handles POST /edits/remove.
func (h *Handler) RemoveEdit(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req EditRequest
	if !bindJSON(c, &req) {
		return
	}

	deleted, err := h.editor.RemoveRating(c.Request.Context(), sess, req.Movie)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{OK: deleted})
}

// BeginEdit handles POST /edits/begin.
func (h *Handler) BeginEdit(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req EditRequest
	if !bindJSON(c, &req) {
		return
	}

	grant, err := h.editor.BeginEdit(c.Request.Context(), sess, req.Movie)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

// EndEdit handles POST /edits/end.
func (h *Handler) EndEdit(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	var req EditRequest
	if !bindJSON(c, &req) {
		return
	}

	released, err := h.editor.EndEdit(c.Request.Context(), sess, req.Movie)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{OK: released})
}

func (h *Handler) lockResponse(rec *lock.Record) LockResponse {
	if rec == nil {
		return LockResponse{}
	}
	acquiredAt := rec.AcquiredAt
	expiresAt := rec.ExpiresAt(h.locks.TTL())
	return LockResponse{AcquiredAt: &acquiredAt, ExpiresAt: &expiresAt}
}

// bindJSON decodes the body into dst. Oversized bodies are left to the
// payload limit middleware.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			_ = c.Error(err)
			c.Abort()
			return false
		}
		badRequest(c, err.Error())
		return false
	}
	return true
}

func session(c *gin.Context) (editor.Session, bool) {
	raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(c, editor.ErrInvalidSession)
		return editor.Session{}, false
	}
	return editor.Session{UserID: id, DisplayName: c.GetHeader(HeaderUserName)}, true
}

func ratingIDs(c *gin.Context) (int64, int64, bool) {
	ownerID, ok := pathID(c, "ownerId")
	if !ok {
		return 0, 0, false
	}
	resourceID, ok := pathID(c, "resourceId")
	if !ok {
		return 0, 0, false
	}
	return ownerID, resourceID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	return id, true
}
