package grouping

import (
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP API of the service.
func NewRouter(service *Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(service.Metrics().Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		segRoutes := v1.Group("/segmentation")
		{
			segRoutes.POST("/train", trainHandler(service))
			segRoutes.POST("/score", scoreHandler(service))
			segRoutes.GET("/customers/:customer_id/segment", predictHandler(service))
			segRoutes.GET("/customers/:customer_id/assignments", assignmentsHandler(service))
			segRoutes.GET("/segments", segmentsHandler(service))
			segRoutes.GET("/models", modelsHandler(service))
			segRoutes.GET("/models/active", activeModelHandler(service))
		}
	}
	return router
}

func trainHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := service.Train(c.Request.Context())
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func scoreHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := service.ScoreAll(c.Request.Context())
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// customerIDParam parses :customer_id, answering 400 when it is not an integer.
func customerIDParam(c *gin.Context) (int64, bool) {
	customerID, err := strconv.ParseInt(c.Param("customer_id"), 10, 64)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, ErrorCodeInvalidIDFormat, "customer_id must be an integer", c.Param("customer_id"))
		return 0, false
	}
	return customerID, true
}

func predictHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID, ok := customerIDParam(c)
		if !ok {
			return
		}
		pred, err := service.Predict(c.Request.Context(), customerID)
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, pred)
	}
}

func segmentsHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		overview, err := service.Segments(c.Request.Context())
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, overview)
	}
}

func modelsHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		versions, err := service.Models(c.Request.Context())
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": versions, "total": len(versions)})
	}
}

func assignmentsHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID, ok := customerIDParam(c)
		if !ok {
			return
		}
		history, err := service.Assignments(c.Request.Context(), customerID)
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

func activeModelHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		active, err := service.ActiveModel(c.Request.Context())
		if err != nil {
			respondWithRunError(c, err)
			return
		}
		c.JSON(http.StatusOK, active)
	}
}
