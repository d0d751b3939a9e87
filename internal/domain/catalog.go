package domain

import (
	"github.com/shopspring/decimal"
)

type Site struct {
	Domain  string `json:"domain"`
	Partner string `json:"partner"`
}

type User struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	LMSUserID int64  `json:"lms_user_id,omitempty"`
}

const (
	ProductTypeSeat           = "Seat"
	ProductTypeEnrollmentCode = "Enrollment Code"
	ProductTypeDonation       = "Donation"
)

const (
	AttrCourseKey       = "course_key"
	AttrCertificateType = "certificate_type"
	AttrSeatType        = "seat_type"
)

const (
	SeatAudit            = "audit"
	SeatHonor            = "honor"
	SeatVerified         = "verified"
	SeatProfessional     = "professional"
	SeatNoIDProfessional = "no-id-professional"
	SeatCredit           = "credit"
)

// PaidSeatTypes are the certificate types that carry a price.
var PaidSeatTypes = []string{SeatVerified, SeatProfessional, SeatNoIDProfessional, SeatCredit}

type Product struct {
	ID         string            `json:"id"`
	SKU        string            `json:"sku"`
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Partner    string            `json:"partner"`
	Price      decimal.Decimal   `json:"price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (p Product) Attr(key string) string {
	if p.Attributes == nil {
		return ""
	}
	return p.Attributes[key]
}

// CourseKey returns the course run the product grants access to.
func (p Product) CourseKey() string {
	return p.Attr(AttrCourseKey)
}

// SeatType returns the certificate type of a seat, or the seat type an
// enrollment code redeems into.
func (p Product) SeatType() string {
	if v := p.Attr(AttrCertificateType); v != "" {
		return v
	}
	return p.Attr(AttrSeatType)
}

type Seat struct {
	SKU  string `json:"sku"`
	Type string `json:"type"`
}

// CatalogCourse is one required component of a bundle or program.
type CatalogCourse struct {
	Key   string `json:"key"`
	Seats []Seat `json:"seats"`
}

type Bundle struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Courses      []CatalogCourse `json:"courses"`
	PairedSKU    string          `json:"paired_sku,omitempty"`
	RequiredSKUs []string        `json:"required_skus,omitempty"`
}

type Program struct {
	UUID    string          `json:"uuid"`
	Title   string          `json:"title"`
	Type    string          `json:"type"`
	Courses []CatalogCourse `json:"courses"`
}

type EnterpriseCustomer struct {
	UUID                      string `json:"uuid"`
	Name                      string `json:"name"`
	EnableDataSharingConsent  bool   `json:"enable_data_sharing_consent"`
	EnforceDataSharingConsent string `json:"enforce_data_sharing_consent"`
}

// EnforcesConsent reports whether learners must consent before enrolling.
func (c EnterpriseCustomer) EnforcesConsent() bool {
	return c.EnableDataSharingConsent && c.EnforceDataSharingConsent == "at_enrollment"
}

type LearnerAffiliation struct {
	Username           string             `json:"username"`
	EnterpriseCustomer EnterpriseCustomer `json:"enterprise_customer"`
	// ConsentedCourses maps a course run key to the learner's consent.
	ConsentedCourses map[string]bool `json:"consented_courses,omitempty"`
}

func (l LearnerAffiliation) HasConsented(courseKey string) bool {
	return l.ConsentedCourses[courseKey]
}

type EnrollmentRequest struct {
	Username   string            `json:"user"`
	CourseKey  string            `json:"course_id"`
	Mode       string            `json:"mode"`
	IsActive   bool              `json:"is_active"`
	Attributes map[string]string `json:"enrollment_attributes,omitempty"`
}

type CreditRequest struct {
	OrderNumber   string          `json:"order_number"`
	BasketID      int64           `json:"basket_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

type ProductCreateRequest struct {
	ID         string            `json:"id,omitempty"`
	SKU        string            `json:"sku"`
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Partner    string            `json:"partner"`
	Price      decimal.Decimal   `json:"price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
