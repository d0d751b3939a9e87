package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

const basketColumns = `id, site, owner, status, currency, lines, attributes, voucher_codes, created_at`

func scanBasket(row rowScanner) (domain.Basket, error) {
	var b domain.Basket
	var site, owner, lines, attrs, codes []byte
	if err := row.Scan(&b.ID, &site, &owner, &b.Status, &b.Currency, &lines, &attrs, &codes, &b.CreatedAt); err != nil {
		return domain.Basket{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	for _, col := range []struct {
		raw  []byte
		into any
	}{
		{site, &b.Site},
		{owner, &b.Owner},
		{lines, &b.Lines},
		{attrs, &b.Attributes},
		{codes, &b.VoucherCodes},
	} {
		if err := decodeJSON(col.raw, col.into); err != nil {
			return domain.Basket{}, err
		}
	}
	return b, nil
}

func (s *Store) CreateBasket(ctx context.Context, basket domain.Basket) (domain.Basket, error) {
	if basket.Status == "" {
		basket.Status = domain.BasketStatusOpen
	}
	if basket.CreatedAt.IsZero() {
		basket.CreatedAt = time.Now().UTC()
	}
	if basket.Lines == nil {
		basket.Lines = []domain.BasketLine{}
	}
	site, err := encodeJSON(basket.Site)
	if err != nil {
		return domain.Basket{}, err
	}
	owner, err := encodeJSON(basket.Owner)
	if err != nil {
		return domain.Basket{}, err
	}
	lines, err := encodeJSON(basket.Lines)
	if err != nil {
		return domain.Basket{}, err
	}
	attrs, err := encodeJSON(basket.Attributes)
	if err != nil {
		return domain.Basket{}, err
	}
	codes, err := encodeJSON(basket.VoucherCodes)
	if err != nil {
		return domain.Basket{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO baskets (site, owner, status, currency, lines, attributes, voucher_codes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, site, owner, basket.Status, basket.Currency, lines, attrs, codes, basket.CreatedAt).Scan(&basket.ID)
	if err != nil {
		return domain.Basket{}, err
	}
	return basket, nil
}

func (s *Store) GetBasket(ctx context.Context, id int64) (domain.Basket, error) {
	b, err := scanBasket(s.db.QueryRowContext(ctx, `SELECT `+basketColumns+` FROM baskets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Basket{}, store.ErrNotFound
		}
		return domain.Basket{}, err
	}
	return b, nil
}

func (s *Store) SaveBasket(ctx context.Context, basket domain.Basket) (domain.Basket, error) {
	owner, err := encodeJSON(basket.Owner)
	if err != nil {
		return domain.Basket{}, err
	}
	if basket.Lines == nil {
		basket.Lines = []domain.BasketLine{}
	}
	lines, err := encodeJSON(basket.Lines)
	if err != nil {
		return domain.Basket{}, err
	}
	attrs, err := encodeJSON(basket.Attributes)
	if err != nil {
		return domain.Basket{}, err
	}
	codes, err := encodeJSON(basket.VoucherCodes)
	if err != nil {
		return domain.Basket{}, err
	}

	saved, err := scanBasket(s.db.QueryRowContext(ctx, `
		UPDATE baskets
		SET owner = $2, currency = $3, lines = $4, attributes = $5, voucher_codes = $6
		WHERE id = $1 AND status = $7
		RETURNING `+basketColumns,
		basket.ID, owner, basket.Currency, lines, attrs, codes, domain.BasketStatusOpen))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Basket{}, err
	}
	existing, err := s.GetBasket(ctx, basket.ID)
	if err != nil {
		return domain.Basket{}, err
	}
	return domain.Basket{}, fmt.Errorf("%w: basket %d is %s", store.ErrInvalidTransaction, basket.ID, existing.Status)
}

const orderColumns = `number, basket_id, site, owner, status, currency, subtotal, total_discount, total,
	payment, lines, discounts, created_at, updated_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var site, owner, payment, lines, discounts []byte
	err := row.Scan(
		&o.Number,
		&o.BasketID,
		&site,
		&owner,
		&o.Status,
		&o.Currency,
		&o.Subtotal,
		&o.TotalDiscount,
		&o.Total,
		&payment,
		&lines,
		&discounts,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	for _, col := range []struct {
		raw  []byte
		into any
	}{
		{site, &o.Site},
		{owner, &o.Owner},
		{payment, &o.Payment},
		{lines, &o.Lines},
		{discounts, &o.Discounts},
	} {
		if err := decodeJSON(col.raw, col.into); err != nil {
			return domain.Order{}, err
		}
	}
	return o, nil
}

func getOrder(ctx context.Context, q querier, number string, lock bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, store.ErrNotFound
		}
		return domain.Order{}, err
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, number string) (domain.Order, error) {
	return getOrder(ctx, s.db, number, false)
}

// PlaceOrder runs serializable so two placements racing for the last use of an
// offer or voucher cannot both commit.
func (s *Store) PlaceOrder(ctx context.Context, placement domain.OrderPlacement) (domain.Order, error) {
	order := placement.Order
	if order.Number == "" || len(order.Lines) == 0 {
		return domain.Order{}, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var basketStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM baskets
		WHERE id = $1
		FOR UPDATE
	`, placement.BasketID).Scan(&basketStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, store.ErrNotFound
		}
		return domain.Order{}, err
	}
	if basketStatus == domain.BasketStatusSubmitted {
		return domain.Order{}, fmt.Errorf("%w: basket %d already submitted", store.ErrConflict, placement.BasketID)
	}

	offers := make(map[string]domain.Offer)
	offerOrder := make([]string, 0, len(placement.Applications))
	vouchers := make(map[string]domain.Voucher)
	voucherOrder := make([]string, 0, 2)
	for _, app := range placement.Applications {
		offer, seen := offers[app.OfferID]
		if !seen {
			offer, err = getOffer(ctx, tx, app.OfferID, true)
			if err != nil {
				return domain.Order{}, err
			}
			offerOrder = append(offerOrder, offer.ID)
		}
		if err := store.RecordOfferUsage(&offer, app.Discount); err != nil {
			return domain.Order{}, err
		}
		offers[offer.ID] = offer

		if app.Code == "" {
			continue
		}
		if _, seen := vouchers[app.Code]; seen {
			continue
		}
		voucher, err := getVoucher(ctx, tx, app.Code, true)
		if err != nil {
			return domain.Order{}, err
		}
		applications, err := listVoucherApplications(ctx, tx, voucher.Code)
		if err != nil {
			return domain.Order{}, err
		}
		if err := store.RecordVoucherUsage(&voucher, placement.Username, applications); err != nil {
			return domain.Order{}, err
		}
		vouchers[voucher.Code] = voucher
		voucherOrder = append(voucherOrder, voucher.Code)
	}

	now := order.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if err := insertOrder(ctx, tx, order); err != nil {
		return domain.Order{}, err
	}

	for _, id := range offerOrder {
		offer := offers[id]
		if _, err := tx.ExecContext(ctx, `
			UPDATE offers
			SET num_applications = $2, total_discount = $3, status = $4
			WHERE id = $1
		`, offer.ID, offer.NumApplications, offer.TotalDiscount, offer.Status); err != nil {
			return domain.Order{}, err
		}
	}

	email := strings.ToLower(placement.UserEmail)
	for _, code := range voucherOrder {
		voucher := vouchers[code]
		if _, err := tx.ExecContext(ctx, `
			UPDATE vouchers
			SET num_orders = $2
			WHERE code = $1
		`, code, voucher.NumOrders); err != nil {
			return domain.Order{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO voucher_applications (code, username, order_number, created_at)
			VALUES ($1,$2,$3,$4)
		`, code, placement.Username, order.Number, now); err != nil {
			return domain.Order{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE offer_assignments
			SET status = $3, updated_at = $4
			WHERE code = $1 AND user_email = $2 AND status = $5
		`, code, email, domain.AssignmentRedeemed, now, domain.AssignmentAssigned); err != nil {
			return domain.Order{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE baskets
		SET status = $2
		WHERE id = $1
	`, placement.BasketID, domain.BasketStatusSubmitted); err != nil {
		return domain.Order{}, err
	}

	if err := commit(tx); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	site, err := encodeJSON(order.Site)
	if err != nil {
		return err
	}
	owner, err := encodeJSON(order.Owner)
	if err != nil {
		return err
	}
	payment, err := encodeJSON(order.Payment)
	if err != nil {
		return err
	}
	lines, err := encodeJSON(order.Lines)
	if err != nil {
		return err
	}
	discounts, err := encodeJSON(order.Discounts)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.Number, order.BasketID, site, owner, order.Status, order.Currency,
		order.Subtotal, order.TotalDiscount, order.Total, payment, lines, discounts,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s exists", store.ErrConflict, order.Number)
		}
		return err
	}
	return nil
}

// UpdateOrder persists the order status and per-line statuses; everything else
// about a placed order is immutable.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getOrder(ctx, tx, order.Number, true)
	if err != nil {
		return domain.Order{}, err
	}
	existing.Status = order.Status
	existing.UpdatedAt = time.Now().UTC()
	for _, line := range order.Lines {
		if target, ok := existing.Line(line.ID); ok {
			target.Status = line.Status
		}
	}
	lines, err := encodeJSON(existing.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, lines = $3, updated_at = $4
		WHERE number = $1
	`, existing.Number, existing.Status, lines, existing.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return existing, nil
}

const refundColumns = `id, order_number, username, status, currency, total_credit_excl_tax, lines, version, created_at, updated_at`

func scanRefund(row rowScanner) (domain.Refund, error) {
	var r domain.Refund
	var lines []byte
	err := row.Scan(&r.ID, &r.OrderNumber, &r.Username, &r.Status, &r.Currency, &r.TotalCreditExclTax, &lines, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Refund{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if err := decodeJSON(lines, &r.Lines); err != nil {
		return domain.Refund{}, err
	}
	return r, nil
}

func listRefunds(ctx context.Context, q querier, orderNumber string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+refundColumns+`
		FROM refunds
		WHERE order_number = $1
		ORDER BY created_at, id
	`, orderNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refunds, nil
}

func (s *Store) ListRefunds(ctx context.Context, orderNumber string) ([]domain.Refund, error) {
	return listRefunds(ctx, s.db, orderNumber)
}

func (s *Store) GetRefund(ctx context.Context, id string) (domain.Refund, error) {
	r, err := scanRefund(s.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Refund{}, store.ErrNotFound
		}
		return domain.Refund{}, err
	}
	return r, nil
}

// CreateRefund locks the order row so concurrent refunds for the same order
// see each other's line claims.
func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (domain.Refund, error) {
	if refund.ID == "" {
		refund.ID = xid.New("RFD")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.UpdatedAt.IsZero() {
		refund.UpdatedAt = refund.CreatedAt
	}
	refund.Version = 1

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Refund{}, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := getOrder(ctx, tx, refund.OrderNumber, true)
	if err != nil {
		return domain.Refund{}, err
	}
	existing, err := listRefunds(ctx, tx, refund.OrderNumber)
	if err != nil {
		return domain.Refund{}, err
	}
	claimed := store.ClaimedLines(existing)
	for _, line := range refund.Lines {
		if _, ok := order.Line(line.OrderLineID); !ok {
			return domain.Refund{}, fmt.Errorf("%w: order line %s", store.ErrNotFound, line.OrderLineID)
		}
		if holder, taken := claimed[line.OrderLineID]; taken {
			return domain.Refund{}, fmt.Errorf("%w: order line %s is held by refund %s", store.ErrConflict, line.OrderLineID, holder)
		}
	}

	lines, err := encodeJSON(refund.Lines)
	if err != nil {
		return domain.Refund{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		refund.ID, refund.OrderNumber, refund.Username, refund.Status, refund.Currency,
		refund.TotalCreditExclTax, lines, refund.Version, refund.CreatedAt, refund.UpdatedAt,
	); err != nil {
		return domain.Refund{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Refund{}, err
	}
	return refund, nil
}

// UpdateRefund is a compare-and-swap on the version column.
func (s *Store) UpdateRefund(ctx context.Context, refund domain.Refund) (domain.Refund, error) {
	if refund.UpdatedAt.IsZero() {
		refund.UpdatedAt = time.Now().UTC()
	}
	lines, err := encodeJSON(refund.Lines)
	if err != nil {
		return domain.Refund{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE refunds
		SET status = $3, lines = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, refund.ID, refund.Version, refund.Status, lines, refund.UpdatedAt)
	if err != nil {
		return domain.Refund{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Refund{}, err
	}
	if affected == 0 {
		current, err := s.GetRefund(ctx, refund.ID)
		if err != nil {
			return domain.Refund{}, err
		}
		return domain.Refund{}, fmt.Errorf("%w: refund %s is at version %d", store.ErrConflict, refund.ID, current.Version)
	}
	refund.Version++
	return refund, nil
}
