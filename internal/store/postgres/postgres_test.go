package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
)

var (
	productCols = []string{"id", "sku", "title", "type", "partner", "price", "attributes"}
	orderCols   = []string{"number", "basket_id", "site", "owner", "status", "currency", "subtotal", "total_discount", "total", "payment", "lines", "discounts", "created_at", "updated_at"}
	refundCols  = []string{"id", "order_number", "username", "status", "currency", "total_credit_excl_tax", "lines", "version", "created_at", "updated_at"}
	offerCols   = []string{"id", "name", "priority", "type", "status", "partner", "start_at", "end_at", "email_domains", "user_email", "condition", "benefit", "consumption", "max_global_applications", "num_applications", "max_discount", "total_discount", "created_at"}
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func orderRow(at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(orderCols).AddRow(
		"DEMOX-100007", int64(7),
		`{"domain":"courses.example.com","partner":"demox"}`,
		`{"username":"learner","email":"learner@example.com"}`,
		domain.OrderStatusComplete, "USD", "149.00", "0.00", "149.00",
		`{"processor":"cybersource","reference":"txn-1"}`,
		`[{"id":"ol-1","product":{"id":"prod-demox-verified","sku":"DEMOX-VER","type":"Seat"},"quantity":1,"unit_price":"149","line_discount":"0","line_price":"149","status":"Complete"}]`,
		`[]`, at, at,
	)
}

func TestGetProductNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(productCols))

	_, err := s.GetProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductDecodesAttributes(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs("prod-1").
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow("prod-1", "DEMOX-VER", "Demo verified", domain.ProductTypeSeat, "demox", "149.00", `{"course_key":"course-v1:demoX+101+2026","certificate_type":"verified"}`))

	p, err := s.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "course-v1:demoX+101+2026", p.CourseKey())
	assert.Equal(t, "verified", p.SeatType())
	assert.True(t, decimal.RequireFromString("149").Equal(p.Price))
}

func TestListUserOffersIncludesOpenOffers(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE partner = $1 AND type = $2 AND (user_email = '' OR user_email = $3)")).
		WithArgs("edx", domain.OfferTypeUser, "learner@example.com").
		WillReturnRows(sqlmock.NewRows(offerCols).AddRow(
			"OFR-manual", "Manual enrollment", 0, domain.OfferTypeUser, domain.OfferStatusOpen, "edx",
			nil, nil, `[]`, "",
			`{"kind":"manual_enrollment_single_item"}`, `{"kind":"Percentage","value":"100"}`,
			domain.ConsumptionSingle, 0, 0, nil, "0", at,
		))

	offers, err := s.ListUserOffers(context.Background(), "edx", " Learner@Example.com ")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Empty(t, offers[0].UserEmail)
	assert.Equal(t, domain.ConditionManualEnrollment, offers[0].Condition.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO app_users")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateUser(context.Background(), domain.UserAccount{Username: "Staff", Password: "hash"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPlaceOrderRejectsSubmittedBasket(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM baskets WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.BasketStatusSubmitted))
	mock.ExpectRollback()

	_, err := s.PlaceOrder(context.Background(), domain.OrderPlacement{
		BasketID: 7,
		Order:    domain.Order{Number: "DEMOX-100007", Lines: []domain.OrderLine{{ID: "ol-1"}}},
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderWithoutOffersSubmitsBasket(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM baskets WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.BasketStatusOpen))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE baskets")).
		WithArgs(int64(7), domain.BasketStatusSubmitted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := s.PlaceOrder(context.Background(), domain.OrderPlacement{
		BasketID: 7,
		Order:    domain.Order{Number: "DEMOX-100007", BasketID: 7, Lines: []domain.OrderLine{{ID: "ol-1"}}},
	})
	require.NoError(t, err)
	assert.False(t, order.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderStopsAtOfferUsageLimit(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM baskets WHERE id = $1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.BasketStatusOpen))
	mock.ExpectQuery(regexp.QuoteMeta("FROM offers WHERE id = $1 FOR UPDATE")).
		WithArgs("OFR-1").
		WillReturnRows(sqlmock.NewRows(offerCols).AddRow(
			"OFR-1", "Bundle", 0, domain.OfferTypeSite, domain.OfferStatusOpen, "demox", nil, nil, nil, "",
			`{"kind":"bundle_intersection","bundle_id":"b-1"}`, `{"kind":"Percentage","value":"10"}`,
			domain.ConsumptionSingle, 1, 1, nil, "14.90", now,
		))
	mock.ExpectRollback()

	_, err := s.PlaceOrder(context.Background(), domain.OrderPlacement{
		BasketID:     7,
		Order:        domain.Order{Number: "DEMOX-100007", Lines: []domain.OrderLine{{ID: "ol-1"}}},
		Applications: []domain.OfferApplication{{OfferID: "OFR-1", Discount: decimal.RequireFromString("14.9")}},
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefundRejectsClaimedLine(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE number = $1 FOR UPDATE")).
		WithArgs("DEMOX-100007").
		WillReturnRows(orderRow(now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM refunds")).
		WithArgs("DEMOX-100007").
		WillReturnRows(sqlmock.NewRows(refundCols).AddRow(
			"RFD-1", "DEMOX-100007", "learner", domain.RefundStatusOpen, "USD", "149.00",
			`[{"id":"rl-1","order_line_id":"ol-1","quantity":1,"line_credit_excl_tax":"149","status":"Open"}]`,
			1, now, now,
		))
	mock.ExpectRollback()

	_, err := s.CreateRefund(context.Background(), domain.Refund{
		OrderNumber: "DEMOX-100007",
		Status:      domain.RefundStatusOpen,
		Lines:       []domain.RefundLine{{OrderLineID: "ol-1", Quantity: 1, Status: domain.RefundLineStatusOpen}},
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRefundBumpsVersion(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refunds")).
		WithArgs("RFD-1", 1, domain.RefundStatusPaymentRefunded, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := s.UpdateRefund(context.Background(), domain.Refund{ID: "RFD-1", Version: 1, Status: domain.RefundStatusPaymentRefunded})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
}

func TestUpdateRefundStaleVersion(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refunds")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM refunds WHERE id = $1")).
		WithArgs("RFD-1").
		WillReturnRows(sqlmock.NewRows(refundCols).AddRow(
			"RFD-1", "DEMOX-100007", "learner", domain.RefundStatusPaymentRefunded, "USD", "149.00", `[]`, 2, now, now,
		))

	_, err := s.UpdateRefund(context.Background(), domain.Refund{ID: "RFD-1", Version: 1, Status: domain.RefundStatusPaymentRefunded})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderMergesLineStatuses(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE number = $1 FOR UPDATE")).
		WillReturnRows(orderRow(now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := s.UpdateOrder(context.Background(), domain.Order{
		Number: "DEMOX-100007",
		Status: domain.OrderStatusFulfillmentError,
		Lines:  []domain.OrderLine{{ID: "ol-1", Status: domain.LineStatusNetworkError}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfillmentError, updated.Status)
	assert.Equal(t, domain.LineStatusNetworkError, updated.Lines[0].Status)
	assert.Equal(t, "DEMOX-VER", updated.Lines[0].Product.SKU)
	assert.NoError(t, mock.ExpectationsWereMet())
}
