package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/domain"
)

// HandleSaleReceipt records the receipt of a committed sale. Rendering and
// delivery belong to the document service.
func HandleSaleReceipt(_ context.Context, t *asynq.Task) error {
	var payload ReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("receipt payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SaleID == "" {
		return fmt.Errorf("receipt payload without sale id: %w", asynq.SkipRetry)
	}

	log.Info().
		Str("task", TaskSaleReceipt).
		Str("sale_id", payload.SaleID).
		Int64("sale_number", payload.SaleNumber).
		Str("store_id", payload.StoreID).
		Str("type", payload.Type).
		Str("total", domain.FormatMoney(payload.TotalCents)).
		Int("lines", payload.Lines).
		Msg("receipt: issued")
	return nil
}
