package handlers

import (
	"net/http"
	"strconv"

	"fishquiz/services"

	"github.com/gin-gonic/gin"
)

type QuestionHandler struct {
	questionService *services.QuestionService
}

func NewQuestionHandler(questionService *services.QuestionService) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
	}
}

func (h *QuestionHandler) GetAll(c *gin.Context) {
	questions, err := h.questionService.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, questions)
}

func (h *QuestionHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	question, err := h.questionService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// GetRandom serves quiz takers, so correctness is masked.
func (h *QuestionHandler) GetRandom(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		respondError(c, services.Validationf("invalid sample size %q", c.Param("n")))
		return
	}

	questions, err := h.questionService.GetRandomSample(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, services.MaskCorrectness(questions))
}

func (h *QuestionHandler) Create(c *gin.Context) {
	var req services.QuestionInput
	if !bindJSON(c, &req) {
		return
	}

	question, err := h.questionService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

func (h *QuestionHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.QuestionInput
	if !bindJSON(c, &req) {
		return
	}

	question, err := h.questionService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

func (h *QuestionHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.questionService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *QuestionHandler) AddAnswers(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.AddAnswersRequest
	if !bindJSON(c, &req) {
		return
	}

	question, err := h.questionService.AddAnswers(c.Request.Context(), id, req.Answers)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

func (h *QuestionHandler) GetAnswers(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	answers, err := h.questionService.AnswersOf(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, answers)
}

func (h *QuestionHandler) DeleteAnswer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.questionService.DeleteAnswer(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
