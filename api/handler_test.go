package api

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/rafata1/order-saga-outbox/service/inventory"
	"github.com/rafata1/order-saga-outbox/service/order"
	"github.com/rafata1/order-saga-outbox/service/saga"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router    *gin.Engine
	inventory inventory.IRepo
	sagas     saga.IService
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := store.NewMemoryDB()
	inventoryRepo := inventory.NewMemoryRepo(db)
	require.NoError(t, inventoryRepo.CreateInventory(context.Background(), model.Inventory{
		ProductID:   "P",
		ProductName: "Pencil",
		UnitPrice:   decimal.NewFromInt(10),
		Quantity:    5,
	}))
	orders := order.NewService(order.NewMemoryRepo(db), inventoryRepo, logr.Discard())
	sagas := saga.NewService(saga.NewMemoryRepo(store.NewMemoryDB()), config.DefaultConfig().Saga, logr.Discard())
	return fixture{
		router:    NewRouter(NewOrderHandler(orders, logr.Discard()), NewSagaHandler(sagas, logr.Discard())),
		inventory: inventoryRepo,
		sagas:     sagas,
	}
}

func (f fixture) do(t *testing.T, method string, path string, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w.Code, res
}

func TestCreateOrder_Created(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPost, "/orders", `{"customerId":"alice","items":[{"productId":"P","quantity":2,"unitPrice":"10"}]}`)
	require.Equal(t, http.StatusCreated, code)
	id, _ := res["id"].(string)
	require.NotEmpty(t, id)

	code, res = f.do(t, http.MethodGet, "/orders/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pending", res["status"])
	assert.Equal(t, "20", res["total"])

	stock, err := f.inventory.GetInventory(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Quantity)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPost, "/orders", `{"customerId":"alice","items":[{"productId":"P","quantity":6,"unitPrice":"10"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "P", res["productId"])
	assert.EqualValues(t, 5, res["available"])
}

func TestCreateOrder_BadRequests(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`not json`,
		`{"customerId":"alice","items":[]}`,
		`{"customerId":"alice","items":[{"productId":"P","quantity":0,"unitPrice":"10"}]}`,
		`{"customerId":"","items":[{"productId":"P","quantity":1,"unitPrice":"10"}]}`,
	} {
		code, _ := f.do(t, http.MethodPost, "/orders", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetSaga(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/sagas/order-1", "")
	assert.Equal(t, http.StatusNotFound, code)

	err := f.sagas.Handle(context.Background(), "m1", saga_event.PlaceOrder{
		OrderID: "order-1",
		UserID:  "alice",
		Items:   []saga_event.OrderItem{{ProductID: "P", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)

	code, res := f.do(t, http.MethodGet, "/sagas/order-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(model.PhasePendingInventory), res["phase"])
	assert.Equal(t, "alice", res["customerId"])
}

type failingOrders struct {
	order.IService
	err error
}

func (s failingOrders) GetOrder(context.Context, string) (model.Order, error) {
	return model.Order{}, s.err
}

func TestGetOrder_InfrastructureErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: fmt.Errorf("%w: db down", commonerrors.ErrUnavailable), code: http.StatusServiceUnavailable},
		{err: context.DeadlineExceeded, code: http.StatusServiceUnavailable},
		{err: fmt.Errorf("boom"), code: http.StatusInternalServerError},
	}
	for _, test := range tests {
		router := NewRouter(NewOrderHandler(failingOrders{err: test.err}, logr.Discard()), nil)
		req := httptest.NewRequest(http.MethodGet, "/orders/x", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, test.code, w.Code, test.err.Error())
	}
}
