package api

import (
	"context"
	"errors"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/service/order"
	"github.com/rafata1/order-saga-outbox/service/saga"
	"net/http"
	"time"
)

const requestTimeout = 5 * time.Second

type OrderHandler struct {
	orders order.IService
	logger logr.Logger
}

func NewOrderHandler(orders order.IService, logger logr.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req order.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id, err := h.orders.CreateOrder(ctx, req)
	var stockErr *order.InsufficientStockError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"id": id})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Insufficient stock",
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	default:
		writeError(c, h.logger, err)
	}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	res, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type SagaHandler struct {
	sagas  saga.IService
	logger logr.Logger
}

func NewSagaHandler(sagas saga.IService, logger logr.Logger) *SagaHandler {
	return &SagaHandler{sagas: sagas, logger: logger}
}

func (h *SagaHandler) GetSaga(c *gin.Context) {
	res, err := h.sagas.GetSaga(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeError(c *gin.Context, logger logr.Logger, err error) {
	switch {
	case commonerrors.Any(err, commonerrors.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case commonerrors.Any(err, commonerrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	case commonerrors.Any(err, commonerrors.ErrUnavailable, commonerrors.ErrTimeout, context.DeadlineExceeded):
		logger.Error(err, "Request failed", "path", c.FullPath())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service Unavailable"})
	default:
		logger.Error(err, "Request failed", "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
