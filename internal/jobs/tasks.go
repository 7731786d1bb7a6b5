package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"kasirkredit/backend/internal/domain"
)

const (
	// QueueDefault is the queue every task of this service runs on.
	QueueDefault = "default"

	TaskOverdueSweep = "installments:overdue-sweep"
	TaskCreditDrift  = "credit:drift"
	TaskSaleReceipt  = "sale:receipt"
)

// CreditDriftPayload asks the drift check to rewrite mismatched counters.
type CreditDriftPayload struct {
	Repair bool `json:"repair"`
}

// ReceiptPayload is the summary of a committed sale handed to the receipt worker.
type ReceiptPayload struct {
	SaleID     string    `json:"sale_id"`
	SaleNumber int64     `json:"sale_number"`
	StoreID    string    `json:"store_id"`
	ClientID   string    `json:"client_id,omitempty"`
	Type       string    `json:"type"`
	TotalCents int64     `json:"total_cents"`
	Lines      int       `json:"lines"`
	CreatedAt  time.Time `json:"created_at"`
}

func receiptFromSale(sale domain.Sale) ReceiptPayload {
	return ReceiptPayload{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		StoreID:    sale.StoreID,
		ClientID:   sale.ClientID,
		Type:       sale.Type,
		TotalCents: sale.TotalCents,
		Lines:      len(sale.Items),
		CreatedAt:  sale.CreatedAt,
	}
}

func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueSweep, nil)
}

func NewCreditDriftTask(repair bool) (*asynq.Task, error) {
	data, err := json.Marshal(CreditDriftPayload{Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCreditDrift, data), nil
}

func NewSaleReceiptTask(payload ReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSaleReceipt, data), nil
}
