package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

const offerColumns = `id, name, priority, type, status, partner, start_at, end_at, email_domains, user_email,
	condition, benefit, consumption, max_global_applications, num_applications, max_discount, total_discount, created_at`

func scanOffer(row rowScanner) (domain.Offer, error) {
	var o domain.Offer
	var startAt, endAt sql.NullTime
	var domains, condition, benefit []byte
	var maxDiscount decimal.NullDecimal
	err := row.Scan(
		&o.ID,
		&o.Name,
		&o.Priority,
		&o.Type,
		&o.Status,
		&o.Partner,
		&startAt,
		&endAt,
		&domains,
		&o.UserEmail,
		&condition,
		&benefit,
		&o.Consumption,
		&o.MaxGlobalApplications,
		&o.NumApplications,
		&maxDiscount,
		&o.TotalDiscount,
		&o.CreatedAt,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	o.StartAt = timePtr(startAt)
	o.EndAt = timePtr(endAt)
	if maxDiscount.Valid {
		capped := maxDiscount.Decimal
		o.MaxDiscount = &capped
	}
	o.CreatedAt = o.CreatedAt.UTC()
	if err := decodeJSON(domains, &o.EmailDomains); err != nil {
		return domain.Offer{}, err
	}
	if err := decodeJSON(condition, &o.Condition); err != nil {
		return domain.Offer{}, err
	}
	if err := decodeJSON(benefit, &o.Benefit); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

func (s *Store) queryOffers(ctx context.Context, q querier, where string, args ...any) ([]domain.Offer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0, 16)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if offer.ID == "" {
		offer.ID = xid.New("OFR")
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	domains, err := encodeJSON(offer.EmailDomains)
	if err != nil {
		return domain.Offer{}, err
	}
	condition, err := encodeJSON(offer.Condition)
	if err != nil {
		return domain.Offer{}, err
	}
	benefit, err := encodeJSON(offer.Benefit)
	if err != nil {
		return domain.Offer{}, err
	}
	var maxDiscount decimal.NullDecimal
	if offer.MaxDiscount != nil {
		maxDiscount = decimal.NewNullDecimal(*offer.MaxDiscount)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		offer.ID, offer.Name, offer.Priority, offer.Type, offer.Status, offer.Partner,
		nullTime(offer.StartAt), nullTime(offer.EndAt), domains, strings.ToLower(offer.UserEmail),
		condition, benefit, offer.Consumption, offer.MaxGlobalApplications, offer.NumApplications,
		maxDiscount, offer.TotalDiscount, offer.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Offer{}, store.ErrConflict
		}
		return domain.Offer{}, err
	}
	return offer, nil
}

func (s *Store) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return getOffer(ctx, s.db, id, false)
}

func getOffer(ctx context.Context, q querier, id string, lock bool) (domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOffer(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, fmt.Errorf("%w: offer %s", store.ErrNotFound, id)
		}
		return domain.Offer{}, err
	}
	return o, nil
}

func (s *Store) ListOffers(ctx context.Context, partner string) ([]domain.Offer, error) {
	return s.queryOffers(ctx, s.db, `($1 = '' OR partner = $1)`, partner)
}

func (s *Store) ListSiteOffers(ctx context.Context, partner string) ([]domain.Offer, error) {
	return s.queryOffers(ctx, s.db, `partner = $1 AND type = $2`, partner, domain.OfferTypeSite)
}

func (s *Store) ListUserOffers(ctx context.Context, partner string, email string) ([]domain.Offer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.queryOffers(ctx, s.db, `partner = $1 AND type = $2 AND (user_email = '' OR user_email = $3)`, partner, domain.OfferTypeUser, email)
}

func (s *Store) UpdateOfferStatus(ctx context.Context, id string, status string) (domain.Offer, error) {
	o, err := scanOffer(s.db.QueryRowContext(ctx, `
		UPDATE offers
		SET status = $2
		WHERE id = $1
		RETURNING `+offerColumns, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, store.ErrNotFound
		}
		return domain.Offer{}, err
	}
	return o, nil
}

func (s *Store) CreateVoucher(ctx context.Context, voucher domain.Voucher) (domain.Voucher, error) {
	voucher.Code = strings.ToUpper(strings.TrimSpace(voucher.Code))
	if voucher.Code == "" || len(voucher.OfferIDs) == 0 {
		return domain.Voucher{}, store.ErrInvalidTransaction
	}
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}
	offerIDs, err := encodeJSON(voucher.OfferIDs)
	if err != nil {
		return domain.Voucher{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Voucher{}, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range voucher.OfferIDs {
		var offerType string
		err := tx.QueryRowContext(ctx, `SELECT type FROM offers WHERE id = $1`, id).Scan(&offerType)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, err
		}
		if offerType != domain.OfferTypeVoucher {
			return domain.Voucher{}, fmt.Errorf("%w: offer %s cannot back a voucher", store.ErrInvalidTransaction, id)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vouchers (code, name, usage, start_at, end_at, offer_ids, num_orders, max_uses, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, voucher.Code, voucher.Name, voucher.Usage, voucher.StartAt, voucher.EndAt, offerIDs, voucher.NumOrders, voucher.MaxUses, voucher.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Voucher{}, store.ErrConflict
		}
		return domain.Voucher{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Voucher{}, err
	}
	return voucher, nil
}

const voucherColumns = `code, name, usage, start_at, end_at, offer_ids, num_orders, max_uses, created_at`

func scanVoucher(row rowScanner) (domain.Voucher, error) {
	var v domain.Voucher
	var offerIDs []byte
	if err := row.Scan(&v.Code, &v.Name, &v.Usage, &v.StartAt, &v.EndAt, &offerIDs, &v.NumOrders, &v.MaxUses, &v.CreatedAt); err != nil {
		return domain.Voucher{}, err
	}
	v.StartAt = v.StartAt.UTC()
	v.EndAt = v.EndAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	if err := decodeJSON(offerIDs, &v.OfferIDs); err != nil {
		return domain.Voucher{}, err
	}
	return v, nil
}

func (s *Store) GetVoucher(ctx context.Context, code string) (domain.Voucher, error) {
	return getVoucher(ctx, s.db, code, false)
}

func getVoucher(ctx context.Context, q querier, code string, lock bool) (domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	v, err := scanVoucher(q.QueryRowContext(ctx, query, strings.ToUpper(strings.TrimSpace(code))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, fmt.Errorf("%w: voucher %s", store.ErrNotFound, code)
		}
		return domain.Voucher{}, err
	}
	return v, nil
}

func (s *Store) ListVouchers(ctx context.Context) ([]domain.Voucher, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vouchers := make([]domain.Voucher, 0, 16)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vouchers, nil
}

func (s *Store) ListVoucherApplications(ctx context.Context, code string) ([]domain.VoucherApplication, error) {
	return listVoucherApplications(ctx, s.db, code)
}

func listVoucherApplications(ctx context.Context, q querier, code string) ([]domain.VoucherApplication, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT code, username, order_number, created_at
		FROM voucher_applications
		WHERE code = $1
		ORDER BY id
	`, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.VoucherApplication, 0, 8)
	for rows.Next() {
		var app domain.VoucherApplication
		if err := rows.Scan(&app.Code, &app.Username, &app.OrderNumber, &app.CreatedAt); err != nil {
			return nil, err
		}
		app.CreatedAt = app.CreatedAt.UTC()
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apps, nil
}

func (s *Store) CreateAssignments(ctx context.Context, assignments []domain.OfferAssignment) ([]domain.OfferAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	created := make([]domain.OfferAssignment, 0, len(assignments))
	for _, a := range assignments {
		a.Code = strings.ToUpper(strings.TrimSpace(a.Code))
		a.UserEmail = strings.ToLower(strings.TrimSpace(a.UserEmail))
		if a.ID == "" {
			a.ID = xid.New("asg")
		}
		if a.Status == "" {
			a.Status = domain.AssignmentEmailPending
		}
		a.CreatedAt, a.UpdatedAt = now, now

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers WHERE code = $1)`, a.Code).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offer_assignments (id, code, user_email, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, a.ID, a.Code, a.UserEmail, a.Status, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s already assigned to %s", store.ErrConflict, a.Code, a.UserEmail)
			}
			return nil, err
		}
		created = append(created, a)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

const assignmentColumns = `id, code, user_email, status, created_at, updated_at`

func scanAssignment(row rowScanner) (domain.OfferAssignment, error) {
	var a domain.OfferAssignment
	if err := row.Scan(&a.ID, &a.Code, &a.UserEmail, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.OfferAssignment{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, code string) ([]domain.OfferAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM offer_assignments
		WHERE code = $1
		ORDER BY created_at, id
	`, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OfferAssignment, 0, 16)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateAssignmentStatus(ctx context.Context, id string, status string, at time.Time) (domain.OfferAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.OfferAssignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAssignment(tx.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM offer_assignments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OfferAssignment{}, store.ErrNotFound
		}
		return domain.OfferAssignment{}, err
	}
	if !a.CanTransition(status) {
		return domain.OfferAssignment{}, fmt.Errorf("%w: assignment %s cannot move from %s to %s", store.ErrInvalidTransaction, id, a.Status, status)
	}
	a.Status = status
	a.UpdatedAt = at.UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE offer_assignments
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, a.ID, a.Status, a.UpdatedAt); err != nil {
		return domain.OfferAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OfferAssignment{}, err
	}
	return a, nil
}
