package handlers

import (
	"net/http"

	"fishquiz/services"

	"github.com/gin-gonic/gin"
)

type CertificateHandler struct {
	certificateService *services.CertificateService
}

func NewCertificateHandler(certificateService *services.CertificateService) *CertificateHandler {
	return &CertificateHandler{
		certificateService: certificateService,
	}
}

// Generate answers 201 when this request issued the certificate and 200 when
// it already existed.
func (h *CertificateHandler) Generate(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	evaluationID, ok := parseID(c, "evaluationId")
	if !ok {
		return
	}

	certificate, created, err := h.certificateService.Generate(c.Request.Context(), userID, evaluationID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, certificate)
}

func (h *CertificateHandler) GetByUser(c *gin.Context) {
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	certificates, err := h.certificateService.GetByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, certificates)
}

func (h *CertificateHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	certificate, err := h.certificateService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, certificate)
}
