package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"fishquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError writes err with the status of its kind. Errors that are not
// ServiceErrors are logged and hidden behind a generic 500.
func respondError(c *gin.Context, err error) {
	var se *services.ServiceError
	if errors.As(err, &se) {
		c.JSON(se.HTTPStatus(), ErrorResponse{Error: se.Message, Code: string(se.Kind)})
		return
	}
	glog.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal server error",
		Code:  string(services.KindInternal),
	})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		respondError(c, services.Validationf("invalid %s %q", name, raw))
		return 0, false
	}
	return uint(id), true
}

func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondError(c, services.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}
