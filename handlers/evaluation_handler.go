package handlers

import (
	"net/http"

	"fishquiz/services"

	"github.com/gin-gonic/gin"
)

type EvaluationHandler struct {
	evaluationService *services.EvaluationService
}

func NewEvaluationHandler(evaluationService *services.EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{
		evaluationService: evaluationService,
	}
}

func (h *EvaluationHandler) Evaluate(c *gin.Context) {
	var req services.EvaluateRequest
	if !bindJSON(c, &req) {
		return
	}

	evaluation, err := h.evaluationService.Evaluate(c.Request.Context(), req.UserID, req.UserAnswers)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluation)
}

func (h *EvaluationHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	evaluation, err := h.evaluationService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluation)
}

func (h *EvaluationHandler) ListByUser(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	evaluations, err := h.evaluationService.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluations)
}

func (h *EvaluationHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateEvaluationRequest
	if !bindJSON(c, &req) {
		return
	}

	evaluation, err := h.evaluationService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluation)
}

func (h *EvaluationHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.evaluationService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
