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
	"golang.org/x/crypto/bcrypt"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

// Store keeps every table in maps behind one mutex. Each write validates
// completely before it mutates anything, which gives the same all-or-nothing
// outcome as a database transaction.
type Store struct {
	mu                 sync.RWMutex
	stock              map[string]map[string]int
	clients            map[string]domain.Client
	salesByID          map[string]*domain.Sale
	lastSaleNumber     int64
	plansByID          map[string]domain.CreditPlan
	planBySale         map[string]string
	installmentsByID   map[string]domain.Installment
	installmentsOfPlan map[string][]string
	payments           []domain.Payment
	shiftsByID         map[string]domain.CashShift
	activeShiftByStore map[string]string
	expensesByShift    map[string][]domain.CashExpense
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		stock:              make(map[string]map[string]int),
		clients:            make(map[string]domain.Client),
		salesByID:          make(map[string]*domain.Sale),
		plansByID:          make(map[string]domain.CreditPlan),
		planBySale:         make(map[string]string),
		installmentsByID:   make(map[string]domain.Installment),
		installmentsOfPlan: make(map[string][]string),
		payments:           make([]domain.Payment, 0, 64),
		shiftsByID:         make(map[string]domain.CashShift),
		activeShiftByStore: make(map[string]string),
		expensesByShift:    make(map[string][]domain.CashExpense),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with
// dev defaults when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("memory-store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("memory-store: failed to hash seed password")
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

// NewSeeded returns a store with two branches, a small catalogue of stock,
// two credit clients and the dev users.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	s.stock["centro"] = map[string]int{
		"PROD-ARROZ-1KG":  80,
		"PROD-ACEITE-1L":  40,
		"PROD-LICUADORA":  6,
		"PROD-VENTILADOR": 4,
	}
	s.stock["norte"] = map[string]int{
		"PROD-ARROZ-1KG": 25,
		"PROD-ACEITE-1L": 10,
		"PROD-LICUADORA": 1,
	}
	s.clients["CLI-0001"] = domain.Client{ID: "CLI-0001", Name: "Maria Gonzalez", CreditLimitCents: 100000, CreatedAt: now}
	s.clients["CLI-0002"] = domain.Client{ID: "CLI-0002", Name: "Jorge Ramirez", CreditLimitCents: 250000, CreatedAt: now}
	return s
}

func (s *Store) CheckAvailability(_ context.Context, storeID string, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shelf := s.stock[domain.NormalizeStoreID(storeID)]
	result := make(map[string]int, len(productIDs))
	for _, productID := range productIDs {
		if qty := shelf[productID]; qty > 0 {
			result[productID] = qty
		}
	}
	return result, nil
}

func (s *Store) ReceiveStock(_ context.Context, storeID string, productID string, qty int) (domain.StockLevel, error) {
	key := domain.NormalizeStoreID(storeID)
	productID = strings.TrimSpace(productID)
	if key == "" || productID == "" || qty < 1 {
		return domain.StockLevel{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shelf, ok := s.stock[key]
	if !ok {
		shelf = make(map[string]int)
		s.stock[key] = shelf
	}
	onHand, ok := domain.AddQty(shelf[productID], qty)
	if !ok {
		return domain.StockLevel{}, fmt.Errorf("%w: stock for %s is out of range", store.ErrValidation, productID)
	}
	shelf[productID] = onHand
	return domain.StockLevel{StoreID: key, ProductID: productID, Qty: shelf[productID]}, nil
}

func (s *Store) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" || client.CreditLimitCents < 0 || client.CreditUsedCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if _, exists := s.clients[client.ID]; exists {
		return nil, fmt.Errorf("%w: client %s already exists", store.ErrValidation, client.ID)
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	s.clients[client.ID] = client
	saved := client
	return &saved, nil
}

func (s *Store) CreateSale(_ context.Context, in domain.NewSale) (*domain.Sale, error) {
	sale := in.Sale
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	isCredit := sale.Type == domain.SaleTypeCredit
	if isCredit && (sale.ClientID == "" || in.Plan == nil || len(in.Installments) == 0) {
		return nil, store.ErrValidation
	}
	storeKey := domain.NormalizeStoreID(sale.StoreID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The number is consumed even when the commit below is rejected.
	s.lastSaleNumber++
	number := s.lastSaleNumber

	var client domain.Client
	if isCredit {
		var ok bool
		client, ok = s.clients[sale.ClientID]
		if !ok {
			return nil, fmt.Errorf("%w: client %s", store.ErrNotFound, sale.ClientID)
		}
		if err := store.CheckCredit(client, sale.TotalCents); err != nil {
			return nil, err
		}
	}

	order, required, err := store.RequiredStock(sale.Items)
	if err != nil {
		return nil, err
	}
	shelf := s.stock[storeKey]
	if err := store.CoverStock(order, required, shelf); err != nil {
		return nil, err
	}

	for productID, qty := range required {
		shelf[productID] -= qty
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Number = number
	sale.StoreID = storeKey
	sale.Voided = false
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		item.SaleID = sale.ID
		items = append(items, item)
	}
	sale.Items = items
	s.salesByID[sale.ID] = cloneSale(&sale)

	if isCredit {
		plan := *in.Plan
		plan.SaleID = sale.ID
		plan.ClientID = client.ID
		plan.Status = domain.PlanStatusActive
		if plan.ID == "" {
			plan.ID = xid.New("plan")
		}
		if plan.CreatedAt.IsZero() {
			plan.CreatedAt = sale.CreatedAt
		}
		s.plansByID[plan.ID] = plan
		s.planBySale[sale.ID] = plan.ID

		ids := make([]string, 0, len(in.Installments))
		for _, inst := range in.Installments {
			if inst.ID == "" {
				inst.ID = xid.New("inst")
			}
			inst.PlanID = plan.ID
			inst.ClientID = client.ID
			s.installmentsByID[inst.ID] = inst
			ids = append(ids, inst.ID)
		}
		s.installmentsOfPlan[plan.ID] = ids

		client.CreditUsedCents += sale.TotalCents
		s.clients[client.ID] = client
	}

	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetPlanBySale(_ context.Context, saleID string) (*domain.CreditPlan, []domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	planID, ok := s.planBySale[saleID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	plan := s.plansByID[planID]
	return &plan, s.planInstallments(plan), nil
}

func (s *Store) VoidSale(_ context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Voided {
		return nil, fmt.Errorf("%w: sale %d is already voided", store.ErrValidation, sale.Number)
	}

	var plan domain.CreditPlan
	planID, hasPlan := s.planBySale[saleID]
	if hasPlan {
		plan = s.plansByID[planID]
		for _, inst := range s.planInstallments(plan) {
			if inst.PaidCents > 0 {
				return nil, fmt.Errorf("%w: sale %d already has payments and cannot be voided", store.ErrValidation, sale.Number)
			}
		}
	}

	shelf, ok := s.stock[sale.StoreID]
	if !ok {
		shelf = make(map[string]int)
		s.stock[sale.StoreID] = shelf
	}
	for _, item := range sale.Items {
		shelf[item.ProductID] += item.Qty
	}

	if hasPlan {
		plan.Status = domain.PlanStatusCancelled
		s.plansByID[plan.ID] = plan
		client := s.clients[plan.ClientID]
		client.CreditUsedCents -= plan.TotalCents
		s.clients[client.ID] = client
	}

	voidedAt := at.UTC()
	sale.Voided = true
	sale.VoidedAt = &voidedAt
	sale.VoidReason = reason
	return cloneSale(sale), nil
}

func (s *Store) ListOutstandingInstallments(_ context.Context, clientID string) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.clients[clientID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.outstandingFor(clientID), nil
}

func (s *Store) ApplyPayment(_ context.Context, payment domain.Payment) (*domain.Payment, domain.Allocation, error) {
	if payment.AmountCents <= 0 {
		return nil, domain.Allocation{}, store.ErrValidation
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[payment.ClientID]
	if !ok {
		return nil, domain.Allocation{}, store.ErrNotFound
	}

	allocation, updated := ledger.Allocate(s.outstandingFor(client.ID), payment.AmountCents, payment.PaymentDate)
	if allocation.AppliedCents == 0 {
		return nil, allocation, fmt.Errorf("%w: client %s has no outstanding installments", store.ErrValidation, client.ID)
	}

	touchedPlans := make(map[string]struct{}, len(updated))
	for _, inst := range updated {
		s.installmentsByID[inst.ID] = inst
		touchedPlans[inst.PlanID] = struct{}{}
	}
	for planID := range touchedPlans {
		plan := s.plansByID[planID]
		if allPaid(s.planInstallments(plan)) {
			plan.Status = domain.PlanStatusCompleted
			s.plansByID[planID] = plan
		}
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	payment.AppliedCents = allocation.AppliedCents
	s.payments = append(s.payments, payment)

	client.CreditUsedCents -= allocation.AppliedCents
	s.clients[client.ID] = client

	saved := payment
	return &saved, allocation, nil
}

func (s *Store) MarkOverdue(_ context.Context, today time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, inst := range s.installmentsByID {
		if s.plansByID[inst.PlanID].Status != domain.PlanStatusActive {
			continue
		}
		if ledger.ShouldMarkOverdue(inst, today) {
			inst.Status = domain.InstallmentOverdue
			s.installmentsByID[id] = inst
			count++
		}
	}
	return count, nil
}

func (s *Store) ListCreditDrift(_ context.Context) ([]domain.CreditDrift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outstanding := make(map[string]int64, len(s.clients))
	for _, plan := range s.plansByID {
		if plan.Status != domain.PlanStatusActive {
			continue
		}
		outstanding[plan.ClientID] += ledger.OutstandingCents(s.planInstallments(plan))
	}

	drifts := make([]domain.CreditDrift, 0)
	for _, client := range s.clients {
		owed := outstanding[client.ID]
		if owed == client.CreditUsedCents {
			continue
		}
		drifts = append(drifts, domain.CreditDrift{
			ClientID:         client.ID,
			CreditUsedCents:  client.CreditUsedCents,
			OutstandingCents: owed,
			DifferenceCents:  client.CreditUsedCents - owed,
		})
	}
	slices.SortFunc(drifts, func(a, b domain.CreditDrift) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return drifts, nil
}

func (s *Store) SetCreditUsed(_ context.Context, clientID string, creditUsedCents int64) error {
	if creditUsedCents < 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return store.ErrNotFound
	}
	client.CreditUsedCents = creditUsedCents
	s.clients[clientID] = client
	return nil
}

func (s *Store) OpenShift(_ context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	key := domain.NormalizeStoreID(shift.StoreID)
	if key == "" || strings.TrimSpace(shift.UserID) == "" || shift.OpeningCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeShiftByStore[key]; exists {
		return nil, store.ErrShiftAlreadyOpen
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.StoreID = key
	shift.Status = domain.ShiftStatusOpen
	shift.ClosingCents = nil
	shift.ExpectedCents = nil
	shift.DifferenceCents = nil
	shift.ClosedAt = nil

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByStore[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByStore[domain.NormalizeStoreID(storeID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) ShiftTotals(_ context.Context, shift domain.CashShift, until time.Time) (domain.ShiftTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.shiftTotals(shift, until), nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, userID string, closingCents int64, closedAt time.Time) (*domain.CashShift, domain.ShiftTotals, error) {
	if closingCents < 0 {
		return nil, domain.ShiftTotals{}, store.ErrValidation
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[shiftID]
	if !ok || shift.Status != domain.ShiftStatusOpen || shift.UserID != userID {
		return nil, domain.ShiftTotals{}, store.ErrShiftNotFound
	}

	totals := s.shiftTotals(shift, closedAt)
	closed := ledger.CloseShift(shift, totals, closingCents, closedAt)
	s.shiftsByID[shiftID] = closed
	delete(s.activeShiftByStore, shift.StoreID)
	return &closed, totals, nil
}

func (s *Store) AddExpense(_ context.Context, expense domain.CashExpense) (*domain.CashExpense, error) {
	expense.Category = strings.TrimSpace(expense.Category)
	if expense.AmountCents <= 0 || expense.Category == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[expense.ShiftID]
	if !ok || shift.UserID != expense.UserID {
		return nil, store.ErrShiftNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByShift[shift.ID] = append(s.expensesByShift[shift.ID], expense)
	saved := expense
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.StoreID = domain.NormalizeStoreID(entry.StoreID)
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	storeKey := domain.NormalizeStoreID(storeID)
	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeKey != "" && entry.StoreID != storeKey {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
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
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// outstandingFor must be called with the lock held.
func (s *Store) outstandingFor(clientID string) []domain.Installment {
	result := make([]domain.Installment, 0, 8)
	for _, plan := range s.plansByID {
		if plan.ClientID != clientID || plan.Status != domain.PlanStatusActive {
			continue
		}
		for _, inst := range s.planInstallments(plan) {
			if ledger.IsOutstanding(inst.Status) {
				result = append(result, inst)
			}
		}
	}
	return ledger.SortForAllocation(result)
}

func (s *Store) planInstallments(plan domain.CreditPlan) []domain.Installment {
	ids := s.installmentsOfPlan[plan.ID]
	result := make([]domain.Installment, 0, len(ids))
	for _, id := range ids {
		inst := s.installmentsByID[id]
		inst.PlanCreatedAt = plan.CreatedAt
		result = append(result, inst)
	}
	return result
}

func (s *Store) shiftTotals(shift domain.CashShift, until time.Time) domain.ShiftTotals {
	totals := domain.ShiftTotals{}
	for _, sale := range s.salesByID {
		if sale.StoreID != shift.StoreID || sale.Type != domain.SaleTypeCash || sale.Voided {
			continue
		}
		if sale.CreatedAt.Before(shift.OpenedAt) || sale.CreatedAt.After(until) {
			continue
		}
		totals.CashSalesCents += sale.TotalCents
	}
	for _, expense := range s.expensesByShift[shift.ID] {
		totals.ExpensesCents += expense.AmountCents
	}
	return totals
}

func allPaid(installments []domain.Installment) bool {
	for _, inst := range installments {
		if inst.Status != domain.InstallmentPaid {
			return false
		}
	}
	return len(installments) > 0
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		dst.VoidedAt = &at
	}
	return &dst
}
