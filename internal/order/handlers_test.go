package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/billing-api/internal/common"
	"github.com/inkwell-labs/billing-api/internal/db"
	"github.com/inkwell-labs/billing-api/internal/events"
)

type orderStub struct {
	order     db.PaymentOrder
	orderErr  error
	cancelled int64
	cancels   []string
	list      []db.PaymentOrder
}

func (s *orderStub) GetOrderByNo(context.Context, string) (db.PaymentOrder, error) {
	return s.order, s.orderErr
}

func (s *orderStub) ListOrdersForUser(context.Context, db.ListOrdersForUserParams) ([]db.PaymentOrder, error) {
	return s.list, nil
}

func (s *orderStub) CountOrdersForUser(context.Context, pgtype.UUID) (int64, error) {
	return int64(len(s.list)), nil
}

func (s *orderStub) CancelOrderIfPending(_ context.Context, orderNo string) (int64, error) {
	s.cancels = append(s.cancels, orderNo)
	return s.cancelled, nil
}

func router(stub *orderStub) *chi.Mux {
	h := Handlers{Store: stub, Bus: events.NewBus(nil, nil, zerolog.Nop()), Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/orders", h.List)
	r.Get("/orders/{orderNo}", h.Get)
	r.Post("/orders/{orderNo}/cancel", h.Cancel)
	return r
}

func asUser(r *http.Request, userID pgtype.UUID) *http.Request {
	return r.WithContext(common.WithUserID(r.Context(), db.UUIDString(userID)))
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Error.Code
}

func TestCancelPendingOrder(t *testing.T) {
	userID := db.NewUUID()
	stub := &orderStub{
		order:     db.PaymentOrder{ID: db.NewUUID(), OrderNo: "SUB-1", UserID: userID, Status: db.OrderStatusPending},
		cancelled: 1,
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/SUB-1/cancel", nil), userID)
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"SUB-1"}, stub.cancels)
}

func TestCancelRejectsForeignOrder(t *testing.T) {
	stub := &orderStub{
		order: db.PaymentOrder{ID: db.NewUUID(), OrderNo: "SUB-1", UserID: db.NewUUID(), Status: db.OrderStatusPending},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/SUB-1/cancel", nil), db.NewUUID())
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, stub.cancels, "ownership is checked before the cancel attempt")
}

func TestCancelCompletedOrderIsStateConflict(t *testing.T) {
	userID := db.NewUUID()
	stub := &orderStub{
		order:     db.PaymentOrder{ID: db.NewUUID(), OrderNo: "SUB-1", UserID: userID, Status: db.OrderStatusCompleted},
		cancelled: 0,
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/SUB-1/cancel", nil), userID)
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.CodeStateConflict, errorCode(t, rec.Body.Bytes()))
}

func TestCancelUnknownOrder(t *testing.T) {
	stub := &orderStub{orderErr: pgx.ErrNoRows}

	req := asUser(httptest.NewRequest(http.MethodPost, "/orders/SUB-404/cancel", nil), db.NewUUID())
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHidesForeignOrder(t *testing.T) {
	stub := &orderStub{
		order: db.PaymentOrder{ID: db.NewUUID(), OrderNo: "SUB-1", UserID: db.NewUUID(), Status: db.OrderStatusPending},
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/orders/SUB-1", nil), db.NewUUID())
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign orders read as absent")
}

func TestListRequiresAuth(t *testing.T) {
	stub := &orderStub{}
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListReturnsLedger(t *testing.T) {
	userID := db.NewUUID()
	stub := &orderStub{list: []db.PaymentOrder{
		{OrderNo: "SUB-2", UserID: userID, Status: db.OrderStatusCompleted},
		{OrderNo: "SUB-1", UserID: userID, Status: db.OrderStatusCancelled},
	}}

	req := asUser(httptest.NewRequest(http.MethodGet, "/orders", nil), userID)
	rec := httptest.NewRecorder()
	router(stub).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Orders     []struct{ OrderNo string }
		Pagination common.Pagination
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Orders, 2)
	assert.Equal(t, 2, resp.Pagination.TotalItems)
}
