package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter serves the order endpoints, and the saga query when sagas is not nil.
func NewRouter(orders *OrderHandler, sagas *SagaHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if orders != nil {
		r.POST("/orders", orders.CreateOrder)
		r.GET("/orders/:id", orders.GetOrder)
	}
	if sagas != nil {
		r.GET("/sagas/:id", sagas.GetSaga)
	}
	return r
}
