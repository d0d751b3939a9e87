package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productOrder    []string
	baskets         map[int64]domain.Basket
	nextBasketID    int64
	offers          map[string]domain.Offer
	offerOrder      []string
	vouchers        map[string]domain.Voucher
	applications    map[string][]domain.VoucherApplication
	assignments     map[string]domain.OfferAssignment
	assignmentOrder []string
	orders          map[string]domain.Order
	refunds         map[string]domain.Refund
	refundOrder     []string
	codes           []domain.EnrollmentCode
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial staff accounts for dev/demo mode. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; unset variables fall back to dev
// defaults with a warning. Production runs against PostgreSQL instead.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seatProduct(id string, sku string, course string, seatType string, price string) domain.Product {
	return domain.Product{
		ID:      id,
		SKU:     sku,
		Title:   "Seat in " + course + " with " + seatType + " certificate",
		Type:    domain.ProductTypeSeat,
		Partner: "edx",
		Price:   decimal.RequireFromString(price),
		Attributes: map[string]string{
			domain.AttrCourseKey:       course,
			domain.AttrCertificateType: seatType,
		},
	}
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		baskets:         make(map[int64]domain.Basket),
		offers:          make(map[string]domain.Offer),
		vouchers:        make(map[string]domain.Voucher),
		applications:    make(map[string][]domain.VoucherApplication),
		assignments:     make(map[string]domain.OfferAssignment),
		orders:          make(map[string]domain.Order),
		refunds:         make(map[string]domain.Refund),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		seatProduct("prod-demox-audit", "DEMOX-AUD", "course-v1:edX+DemoX+2026", domain.SeatAudit, "0.00"),
		seatProduct("prod-demox-verified", "DEMOX-VER", "course-v1:edX+DemoX+2026", domain.SeatVerified, "149.00"),
		seatProduct("prod-data-verified", "DATA-VER", "course-v1:edX+Data101+2026", domain.SeatVerified, "99.00"),
		seatProduct("prod-data-professional", "DATA-PRO", "course-v1:edX+Data101+2026", domain.SeatProfessional, "199.00"),
		{
			ID:      "prod-demox-codes",
			SKU:     "DEMOX-EC",
			Title:   "Enrollment code for course-v1:edX+DemoX+2026",
			Type:    domain.ProductTypeEnrollmentCode,
			Partner: "edx",
			Price:   decimal.RequireFromString("149.00"),
			Attributes: map[string]string{
				domain.AttrCourseKey: "course-v1:edX+DemoX+2026",
				domain.AttrSeatType:  domain.SeatVerified,
			},
		},
		{ID: "prod-donation", SKU: "DONATE", Title: "Donation", Type: domain.ProductTypeDonation, Partner: "edx", Price: decimal.RequireFromString("10.00")},
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.productOrder = append(s.productOrder, p.ID)
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		result = append(result, cloneProduct(s.products[id]))
	}
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.SKU) == "" || product.Price.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return domain.Product{}, store.ErrConflict
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	s.products[product.ID] = cloneProduct(product)
	s.productOrder = append(s.productOrder, product.ID)
	return cloneProduct(product), nil
}

func (s *Store) CreateBasket(_ context.Context, basket domain.Basket) (domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextBasketID++
	basket.ID = s.nextBasketID
	if basket.Status == "" {
		basket.Status = domain.BasketStatusOpen
	}
	if basket.CreatedAt.IsZero() {
		basket.CreatedAt = time.Now().UTC()
	}
	s.baskets[basket.ID] = *basket.Clone()
	return *basket.Clone(), nil
}

func (s *Store) GetBasket(_ context.Context, id int64) (domain.Basket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	basket, ok := s.baskets[id]
	if !ok {
		return domain.Basket{}, store.ErrNotFound
	}
	return *basket.Clone(), nil
}

func (s *Store) SaveBasket(_ context.Context, basket domain.Basket) (domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.baskets[basket.ID]
	if !ok {
		return domain.Basket{}, store.ErrNotFound
	}
	if existing.Status != domain.BasketStatusOpen {
		return domain.Basket{}, fmt.Errorf("%w: basket %d is %s", store.ErrInvalidTransaction, basket.ID, existing.Status)
	}
	basket.Status = existing.Status
	basket.CreatedAt = existing.CreatedAt
	basket.Site = existing.Site
	s.baskets[basket.ID] = *basket.Clone()
	return *basket.Clone(), nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.Offer) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offer.ID == "" {
		offer.ID = xid.New("OFR")
	}
	if _, exists := s.offers[offer.ID]; exists {
		return domain.Offer{}, store.ErrConflict
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	s.offers[offer.ID] = cloneOffer(offer)
	s.offerOrder = append(s.offerOrder, offer.ID)
	return cloneOffer(offer), nil
}

func (s *Store) GetOffer(_ context.Context, id string) (domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, store.ErrNotFound
	}
	return cloneOffer(offer), nil
}

func (s *Store) listOffers(keep func(domain.Offer) bool) []domain.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Offer, 0, len(s.offerOrder))
	for _, id := range s.offerOrder {
		offer := s.offers[id]
		if keep(offer) {
			result = append(result, cloneOffer(offer))
		}
	}
	return result
}

func (s *Store) ListOffers(_ context.Context, partner string) ([]domain.Offer, error) {
	return s.listOffers(func(o domain.Offer) bool {
		return partner == "" || o.Partner == partner
	}), nil
}

func (s *Store) ListSiteOffers(_ context.Context, partner string) ([]domain.Offer, error) {
	return s.listOffers(func(o domain.Offer) bool {
		return o.Partner == partner && o.Type == domain.OfferTypeSite
	}), nil
}

func (s *Store) ListUserOffers(_ context.Context, partner string, email string) ([]domain.Offer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.listOffers(func(o domain.Offer) bool {
		if o.Partner != partner || o.Type != domain.OfferTypeUser {
			return false
		}
		// Offers without an email are open to any learner the condition admits.
		return o.UserEmail == "" || strings.EqualFold(o.UserEmail, email)
	}), nil
}

func (s *Store) UpdateOfferStatus(_ context.Context, id string, status string) (domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, store.ErrNotFound
	}
	offer.Status = status
	s.offers[id] = offer
	return cloneOffer(offer), nil
}

func (s *Store) CreateVoucher(_ context.Context, voucher domain.Voucher) (domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	voucher.Code = strings.ToUpper(strings.TrimSpace(voucher.Code))
	if voucher.Code == "" || len(voucher.OfferIDs) == 0 {
		return domain.Voucher{}, store.ErrInvalidTransaction
	}
	if _, exists := s.vouchers[voucher.Code]; exists {
		return domain.Voucher{}, store.ErrConflict
	}
	for _, id := range voucher.OfferIDs {
		offer, ok := s.offers[id]
		if !ok || offer.Type != domain.OfferTypeVoucher {
			return domain.Voucher{}, fmt.Errorf("%w: offer %s cannot back a voucher", store.ErrInvalidTransaction, id)
		}
	}
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}
	voucher.OfferIDs = slices.Clone(voucher.OfferIDs)
	s.vouchers[voucher.Code] = voucher
	return cloneVoucher(voucher), nil
}

func (s *Store) GetVoucher(_ context.Context, code string) (domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voucher, ok := s.vouchers[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Voucher{}, store.ErrNotFound
	}
	return cloneVoucher(voucher), nil
}

func (s *Store) ListVouchers(_ context.Context) ([]domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Voucher, 0, len(s.vouchers))
	for _, voucher := range s.vouchers {
		result = append(result, cloneVoucher(voucher))
	}
	slices.SortFunc(result, func(a, b domain.Voucher) int {
		return strings.Compare(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) ListVoucherApplications(_ context.Context, code string) ([]domain.VoucherApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.applications[strings.ToUpper(strings.TrimSpace(code))]), nil
}

func (s *Store) CreateAssignments(_ context.Context, assignments []domain.OfferAssignment) ([]domain.OfferAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.assignments))
	for _, a := range s.assignments {
		existing[assignmentKey(a.Code, a.UserEmail)] = true
	}
	now := time.Now().UTC()
	created := make([]domain.OfferAssignment, 0, len(assignments))
	for _, a := range assignments {
		a.Code = strings.ToUpper(strings.TrimSpace(a.Code))
		a.UserEmail = strings.ToLower(strings.TrimSpace(a.UserEmail))
		if _, ok := s.vouchers[a.Code]; !ok {
			return nil, store.ErrNotFound
		}
		key := assignmentKey(a.Code, a.UserEmail)
		if existing[key] {
			return nil, fmt.Errorf("%w: %s already assigned to %s", store.ErrConflict, a.Code, a.UserEmail)
		}
		existing[key] = true
		if a.ID == "" {
			a.ID = xid.New("asg")
		}
		if a.Status == "" {
			a.Status = domain.AssignmentEmailPending
		}
		a.CreatedAt, a.UpdatedAt = now, now
		created = append(created, a)
	}
	for _, a := range created {
		s.assignments[a.ID] = a
		s.assignmentOrder = append(s.assignmentOrder, a.ID)
	}
	return created, nil
}

func (s *Store) ListAssignments(_ context.Context, code string) ([]domain.OfferAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	result := make([]domain.OfferAssignment, 0, 8)
	for _, id := range s.assignmentOrder {
		if a := s.assignments[id]; a.Code == code {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *Store) UpdateAssignmentStatus(_ context.Context, id string, status string, at time.Time) (domain.OfferAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return domain.OfferAssignment{}, store.ErrNotFound
	}
	if !a.CanTransition(status) {
		return domain.OfferAssignment{}, fmt.Errorf("%w: assignment %s cannot move from %s to %s", store.ErrInvalidTransaction, id, a.Status, status)
	}
	a.Status = status
	a.UpdatedAt = at
	s.assignments[id] = a
	return a, nil
}

func (s *Store) PlaceOrder(_ context.Context, placement domain.OrderPlacement) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := placement.Order
	basket, ok := s.baskets[placement.BasketID]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	if basket.Status == domain.BasketStatusSubmitted {
		return domain.Order{}, fmt.Errorf("%w: basket %d already submitted", store.ErrConflict, basket.ID)
	}
	if order.Number == "" || len(order.Lines) == 0 {
		return domain.Order{}, store.ErrInvalidTransaction
	}
	if _, exists := s.orders[order.Number]; exists {
		return domain.Order{}, fmt.Errorf("%w: order %s exists", store.ErrConflict, order.Number)
	}

	// Work on copies so a failed check leaves nothing half written.
	offers := make(map[string]domain.Offer)
	vouchers := make(map[string]domain.Voucher)
	for _, app := range placement.Applications {
		offer, seen := offers[app.OfferID]
		if !seen {
			offer, ok = s.offers[app.OfferID]
			if !ok {
				return domain.Order{}, fmt.Errorf("%w: offer %s", store.ErrNotFound, app.OfferID)
			}
			offer = cloneOffer(offer)
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
		voucher, ok := s.vouchers[app.Code]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: voucher %s", store.ErrNotFound, app.Code)
		}
		voucher = cloneVoucher(voucher)
		if err := store.RecordVoucherUsage(&voucher, placement.Username, s.applications[app.Code]); err != nil {
			return domain.Order{}, err
		}
		vouchers[voucher.Code] = voucher
	}

	now := order.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	for id, offer := range offers {
		s.offers[id] = offer
	}
	email := strings.ToLower(placement.UserEmail)
	for code, voucher := range vouchers {
		s.vouchers[code] = voucher
		s.applications[code] = append(s.applications[code], domain.VoucherApplication{
			Code:        code,
			Username:    placement.Username,
			OrderNumber: order.Number,
			CreatedAt:   now,
		})
		for id, a := range s.assignments {
			if a.Code == code && a.UserEmail == email && a.CanTransition(domain.AssignmentRedeemed) {
				a.Status = domain.AssignmentRedeemed
				a.UpdatedAt = now
				s.assignments[id] = a
			}
		}
	}
	basket.Status = domain.BasketStatusSubmitted
	s.baskets[basket.ID] = basket
	s.orders[order.Number] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (s *Store) GetOrder(_ context.Context, number string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[number]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[order.Number]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	existing.Status = order.Status
	existing.UpdatedAt = time.Now().UTC()
	for _, line := range order.Lines {
		if target, ok := existing.Line(line.ID); ok {
			target.Status = line.Status
		}
	}
	s.orders[order.Number] = existing
	return cloneOrder(existing), nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[refund.OrderNumber]
	if !ok {
		return domain.Refund{}, store.ErrNotFound
	}
	existing := make([]domain.Refund, 0, 4)
	for _, other := range s.refunds {
		if other.OrderNumber == refund.OrderNumber {
			existing = append(existing, other)
		}
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
	if refund.ID == "" {
		refund.ID = xid.New("RFD")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	refund.Version = 1
	s.refunds[refund.ID] = refund.Clone()
	s.refundOrder = append(s.refundOrder, refund.ID)
	return refund.Clone(), nil
}

func (s *Store) GetRefund(_ context.Context, id string) (domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refund, ok := s.refunds[id]
	if !ok {
		return domain.Refund{}, store.ErrNotFound
	}
	return refund.Clone(), nil
}

func (s *Store) ListRefunds(_ context.Context, orderNumber string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Refund, 0, 8)
	for _, id := range s.refundOrder {
		refund := s.refunds[id]
		if orderNumber != "" && refund.OrderNumber != orderNumber {
			continue
		}
		result = append(result, refund.Clone())
	}
	return result, nil
}

func (s *Store) UpdateRefund(_ context.Context, refund domain.Refund) (domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.refunds[refund.ID]
	if !ok {
		return domain.Refund{}, store.ErrNotFound
	}
	if existing.Version != refund.Version {
		return domain.Refund{}, fmt.Errorf("%w: refund %s is at version %d", store.ErrConflict, refund.ID, existing.Version)
	}
	refund.Version++
	if refund.UpdatedAt.IsZero() {
		refund.UpdatedAt = time.Now().UTC()
	}
	s.refunds[refund.ID] = refund.Clone()
	return refund.Clone(), nil
}

func (s *Store) CreateEnrollmentCodes(_ context.Context, codes []domain.EnrollmentCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes = append(s.codes, codes...)
	return nil
}

func (s *Store) ListEnrollmentCodes(_ context.Context, orderNumber string) ([]domain.EnrollmentCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.EnrollmentCode, 0, 8)
	for _, code := range s.codes {
		if code.OrderNumber == orderNumber {
			result = append(result, code)
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, partner string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if partner != "" && entry.Partner != partner {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func assignmentKey(code string, email string) string {
	return code + "|" + email
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	if src.Attributes != nil {
		dst.Attributes = make(map[string]string, len(src.Attributes))
		for k, v := range src.Attributes {
			dst.Attributes[k] = v
		}
	}
	return dst
}

func cloneOffer(src domain.Offer) domain.Offer {
	dst := src
	dst.EmailDomains = slices.Clone(src.EmailDomains)
	if src.Benefit.Range != nil {
		dst.Benefit.Range = &domain.Range{SKUs: slices.Clone(src.Benefit.Range.SKUs)}
	}
	if src.StartAt != nil {
		start := *src.StartAt
		dst.StartAt = &start
	}
	if src.EndAt != nil {
		end := *src.EndAt
		dst.EndAt = &end
	}
	if src.MaxDiscount != nil {
		budget := *src.MaxDiscount
		dst.MaxDiscount = &budget
	}
	return dst
}

func cloneVoucher(src domain.Voucher) domain.Voucher {
	dst := src
	dst.OfferIDs = slices.Clone(src.OfferIDs)
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = make([]domain.OrderLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Product = cloneProduct(line.Product)
		dst.Lines[i] = line
	}
	dst.Discounts = make([]domain.Discount, len(src.Discounts))
	for i, discount := range src.Discounts {
		discount.Lines = slices.Clone(discount.Lines)
		dst.Discounts[i] = discount
	}
	return dst
}
