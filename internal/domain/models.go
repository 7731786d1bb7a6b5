package domain

import "time"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Client struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreditLimitCents int64     `json:"credit_limit_cents"`
	CreditUsedCents  int64     `json:"credit_used_cents"`
	CreatedAt        time.Time `json:"created_at"`
}

// AvailableCreditCents never goes below zero even when the counter drifted past the limit.
func (c Client) AvailableCreditCents() int64 {
	if c.CreditUsedCents >= c.CreditLimitCents {
		return 0
	}
	return c.CreditLimitCents - c.CreditUsedCents
}

type ClientCreateRequest struct {
	ID               string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name             string `json:"name" validate:"required,max=120"`
	CreditLimitCents int64  `json:"credit_limit_cents" validate:"gte=0"`
}

type StockLevel struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type StockReceiptRequest struct {
	StoreID   string `json:"store_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0,lte=100000"`
}

type AvailabilityResponse struct {
	StoreID string         `json:"store_id"`
	Stock   map[string]int `json:"stock"`
}

type SaleItemInput struct {
	ProductID      string `json:"product_id" validate:"required"`
	Qty            int    `json:"qty" validate:"gt=0,lte=100000"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0,lte=100000000000"`
}

type SaleRequest struct {
	StoreID       string          `json:"store_id"`
	ClientID      string          `json:"client_id,omitempty"`
	Type          string          `json:"type" validate:"required,oneof=CONTADO CREDITO"`
	Items         []SaleItemInput `json:"items" validate:"required,min=1,max=200,dive"`
	DiscountCents int64           `json:"discount_cents" validate:"gte=0"`
	Installments  int             `json:"installments,omitempty" validate:"omitempty,min=1,max=6"`
}

type SaleResponse struct {
	SaleID     string `json:"sale_id"`
	SaleNumber int64  `json:"sale_number"`
	TotalCents int64  `json:"total_cents"`
}

type Sale struct {
	ID            string     `json:"id"`
	Number        int64      `json:"number"`
	StoreID       string     `json:"store_id"`
	ClientID      string     `json:"client_id,omitempty"`
	Type          string     `json:"type"`
	SubtotalCents int64      `json:"subtotal_cents"`
	DiscountCents int64      `json:"discount_cents"`
	TotalCents    int64      `json:"total_cents"`
	UserID        string     `json:"user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Voided        bool       `json:"voided"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
	VoidReason    string     `json:"void_reason,omitempty"`
	Items         []SaleItem `json:"items"`
}

type SaleItem struct {
	SaleID         string `json:"sale_id"`
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// NewSale carries everything the store needs to commit a sale in one unit.
// Number is assigned by the store.
type NewSale struct {
	Sale         Sale
	Plan         *CreditPlan
	Installments []Installment
}

type VoidSaleRequest struct {
	Reason     string `json:"reason" validate:"required"`
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type SaleDetailResponse struct {
	Sale         Sale          `json:"sale"`
	Plan         *CreditPlan   `json:"plan,omitempty"`
	Installments []Installment `json:"installments,omitempty"`
}

type CreditPlan struct {
	ID                string    `json:"id"`
	SaleID            string    `json:"sale_id"`
	ClientID          string    `json:"client_id"`
	TotalCents        int64     `json:"total_cents"`
	InstallmentsCount int       `json:"installments_count"`
	InstallmentCents  int64     `json:"installment_cents"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

type Installment struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	ClientID    string     `json:"client_id"`
	Number      int        `json:"number"`
	AmountCents int64      `json:"amount_cents"`
	DueDate     time.Time  `json:"due_date"`
	PaidCents   int64      `json:"paid_cents"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	// PlanCreatedAt orders installments of different plans that fall due on the same day.
	PlanCreatedAt time.Time `json:"-"`
}

func (i Installment) BalanceCents() int64 {
	if i.PaidCents >= i.AmountCents {
		return 0
	}
	return i.AmountCents - i.PaidCents
}

type PaymentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Notes       string `json:"notes,omitempty" validate:"max=500"`
}

type Payment struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	AmountCents  int64     `json:"amount_cents"`
	AppliedCents int64     `json:"applied_cents"`
	PaymentDate  time.Time `json:"payment_date"`
	UserID       string    `json:"user_id"`
	Notes        string    `json:"notes,omitempty"`
}

// InstallmentChange is the before/after delta of one installment touched by a payment.
type InstallmentChange struct {
	InstallmentID   string     `json:"installment_id"`
	PlanID          string     `json:"plan_id"`
	Number          int        `json:"number"`
	DueDate         time.Time  `json:"due_date"`
	AmountCents     int64      `json:"amount_cents"`
	PaidBeforeCents int64      `json:"paid_before_cents"`
	AppliedCents    int64      `json:"applied_cents"`
	PaidAfterCents  int64      `json:"paid_after_cents"`
	StatusBefore    string     `json:"status_before"`
	StatusAfter     string     `json:"status_after"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

type Allocation struct {
	Changes        []InstallmentChange `json:"touched_installments"`
	AppliedCents   int64               `json:"applied_cents"`
	RemainingCents int64               `json:"remaining_cents"`
}

type PaymentResponse struct {
	Payment    *Payment   `json:"payment,omitempty"`
	Allocation Allocation `json:"allocation"`
	Preview    bool       `json:"preview"`
}

type ClientStatement struct {
	Client               Client        `json:"client"`
	AvailableCreditCents int64         `json:"available_credit_cents"`
	OutstandingCents     int64         `json:"outstanding_cents"`
	Installments         []Installment `json:"installments"`
	GeneratedAt          time.Time     `json:"generated_at"`
}

type CreditDrift struct {
	ClientID         string `json:"client_id"`
	CreditUsedCents  int64  `json:"credit_used_cents"`
	OutstandingCents int64  `json:"outstanding_cents"`
	DifferenceCents  int64  `json:"difference_cents"`
	Repaired         bool   `json:"repaired"`
}

type CashShift struct {
	ID              string     `json:"id"`
	StoreID         string     `json:"store_id"`
	UserID          string     `json:"user_id"`
	OpeningCents    int64      `json:"opening_cents"`
	Status          string     `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosingCents    *int64     `json:"closing_cents,omitempty"`
	ExpectedCents   *int64     `json:"expected_cents,omitempty"`
	DifferenceCents *int64     `json:"difference_cents,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

type CashExpense struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	UserID      string    `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ShiftOpenRequest struct {
	StoreID      string `json:"store_id"`
	OpeningCents int64  `json:"opening_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	ShiftID      string `json:"-"`
	ClosingCents int64  `json:"closing_cents" validate:"gte=0"`
}

type ExpenseRequest struct {
	ShiftID     string `json:"-"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Category    string `json:"category" validate:"required,max=64"`
	Description string `json:"description,omitempty" validate:"max=255"`
}

// ShiftTotals are the sums a close reconciles against.
type ShiftTotals struct {
	CashSalesCents int64 `json:"cash_sales_cents"`
	ExpensesCents  int64 `json:"expenses_cents"`
}

type ShiftResponse struct {
	Shift  CashShift    `json:"shift"`
	Totals *ShiftTotals `json:"totals,omitempty"`
}

type SweepResponse struct {
	Reclassified int    `json:"reclassified"`
	AsOf         string `json:"as_of"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SaleTypeCash   = "CONTADO"
	SaleTypeCredit = "CREDITO"
)

const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusCompleted = "COMPLETED"
	PlanStatusCancelled = "CANCELLED"
)

const (
	InstallmentPending = "PENDING"
	InstallmentPartial = "PARTIAL"
	InstallmentPaid    = "PAID"
	InstallmentOverdue = "OVERDUE"
)

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
