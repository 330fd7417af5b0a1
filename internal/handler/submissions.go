package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pio7/internal/course"
	"pio7/internal/submission"
)

func (h *Handler) submit(c *gin.Context) {
	n, err := course.ParseNumber(c.PostForm("sessionNumber"))
	if err != nil {
		h.fail(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()

	sub, err := h.Submissions.Submit(c.Request.Context(), identity(c), submission.Upload{
		SessionNumber: n,
		TaskType:      c.PostForm("taskType"),
		FileName:      fh.Filename,
		MimeType:      fh.Header.Get("Content-Type"),
		Size:          fh.Size,
		Body:          f,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) mySubmissions(c *gin.Context) {
	subs, err := h.Submissions.Mine(c.Request.Context(), identity(c), queryLimit(c, submission.DefaultListLimit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

func (h *Handler) allSubmissions(c *gin.Context) {
	subs, err := h.Submissions.All(c.Request.Context(), identity(c), queryLimit(c, submission.DefaultListLimit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}
