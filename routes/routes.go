package routes

import (
	"net/http"
	"time"

	"fishquiz/handlers"
	"fishquiz/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS_ORIGINS governs browsers; subscribers are read-only
	},
}

var eventTopics = map[string]bool{
	"":                                true,
	services.EventEvaluationCompleted: true,
	services.EventCertificateIssued:   true,
}

// CORS allows the configured origins; "*" allows any.
func CORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	})
}

func SetupRoutes(
	router *gin.Engine,
	questionHandler *handlers.QuestionHandler,
	categoryHandler *handlers.CategoryHandler,
	evaluationHandler *handlers.EvaluationHandler,
	certificateHandler *handlers.CertificateHandler,
	hub *services.Hub,
) {
	questions := router.Group("/questions")
	{
		questions.GET("", questionHandler.GetAll)
		questions.POST("", questionHandler.Create)
		questions.GET("/random/:n", questionHandler.GetRandom)
		questions.GET("/:id", questionHandler.GetByID)
		questions.PUT("/:id", questionHandler.Update)
		questions.DELETE("/:id", questionHandler.Delete)
		questions.POST("/:id/answers", questionHandler.AddAnswers)
	}

	answers := router.Group("/answers")
	{
		answers.GET("/question/:id", questionHandler.GetAnswers)
		answers.DELETE("/:id", questionHandler.DeleteAnswer)
	}

	categories := router.Group("/categories")
	{
		categories.GET("", categoryHandler.List)
		categories.POST("", categoryHandler.Create)
	}

	evaluations := router.Group("/evaluations")
	{
		evaluations.POST("/evaluate", evaluationHandler.Evaluate)
		evaluations.GET("/user/:userId", evaluationHandler.ListByUser)
		evaluations.GET("/:id", evaluationHandler.GetByID)
		evaluations.PUT("/:id", evaluationHandler.Update)
		evaluations.DELETE("/:id", evaluationHandler.Delete)
	}

	certificates := router.Group("/certificates")
	{
		certificates.POST("/generate/:userId/:evaluationId", certificateHandler.Generate)
		certificates.GET("/user/:userId", certificateHandler.GetByUser)
		certificates.GET("/:id", certificateHandler.GetByID)
	}

	// Event stream for evaluation and certificate notifications
	router.GET("/ws/events", func(c *gin.Context) {
		topic := c.Query("topic")
		if !eventTopics[topic] {
			c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
				Error: "unknown topic " + topic,
				Code:  string(services.KindValidation),
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			glog.Warningf("event stream upgrade failed: %v", err)
			return
		}

		hub.RegisterClient(conn, topic)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
