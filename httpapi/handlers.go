package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jacentio/espalier/etag"
	"github.com/jacentio/espalier/plan"
)

// maxBodyBytes bounds plan payloads.
const maxBodyBytes = 1 << 20

// handler serves the /plan routes.
type handler struct {
	plans  *plan.Service
	logger *slog.Logger
}

func (h *handler) create(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	res, err := h.plans.Create(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("ETag", etag.Quote(res.ETag))
	c.Header("Location", "/plan/"+res.ID)
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Created data with key: " + res.ID,
		"objectId": res.ID,
	})
}

func (h *handler) get(c *gin.Context) {
	res, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("ETag", etag.Quote(res.ETag))
	if etag.Match(res.ETag, c.GetHeader("If-None-Match")) {
		c.Status(http.StatusNotModified)
		return
	}
	h.document(c, http.StatusOK, res)
}

func (h *handler) patch(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	res, err := h.plans.Patch(c.Request.Context(), c.Param("id"), c.GetHeader("If-Match"), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("ETag", etag.Quote(res.ETag))
	h.document(c, http.StatusOK, res)
}

func (h *handler) delete(c *gin.Context) {
	err := h.plans.Delete(c.Request.Context(), c.Param("id"), c.GetHeader("If-Match"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// document writes the plan in its canonical encoding, the form its token covers.
func (h *handler) document(c *gin.Context, status int, res *plan.Result) {
	data, err := res.Document.Marshal()
	if err != nil {
		h.fail(c, fmt.Errorf("encode plan: %w", err))
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

func (h *handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "request body too large"})
			return nil, false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "cannot read request body"})
		return nil, false
	}
	return body, true
}

// fail maps service errors to responses.
func (h *handler) fail(c *gin.Context, err error) {
	var verr *plan.ValidationError
	var perr *plan.PartialDeleteError

	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": verr.Error(), "errors": verr.Fields})
	case errors.Is(err, plan.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "plan " + c.Param("id") + " not found"})
	case errors.Is(err, plan.ErrAlreadyExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": "plan already exists"})
	case errors.Is(err, plan.ErrPreconditionRequired):
		c.AbortWithStatusJSON(http.StatusPreconditionRequired, gin.H{"message": "If-Match header is required"})
	case errors.Is(err, plan.ErrConcurrentModification):
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{"message": "plan has been modified; fetch it again"})
	case errors.As(err, &perr):
		h.logger.Error("partial plan delete", "plan_id", c.Param("id"), "undeleted", perr.Keys)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "some records could not be deleted", "undeleted": perr.Keys})
	default:
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}
