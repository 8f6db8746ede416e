package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	// TaskLowStockScan sweeps every company's ledger for products at or
	// below their reorder threshold.
	TaskLowStockScan = "inventory:low_stock_scan"
)

// LowStockScanPayload carries scheduling metadata. CompanyID zero scans
// every company with stock on hand.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	CompanyID    int64     `json:"company_id,omitempty"`
}

// StockReader is the slice of the inventory repository the scan needs.
type StockReader interface {
	ListStockedCompanies(ctx context.Context) ([]int64, error)
	ListLowStock(ctx context.Context, companyID, warehouseID int64) ([]inventory.LowStockItem, error)
}

// NewLowStockScanTask constructs an Asynq task for the periodic scan.
func NewLowStockScanTask(at time.Time, companyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: at, CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanHandler processes TaskLowStockScan tasks.
func NewLowStockScanHandler(logger *slog.Logger, reader StockReader) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		companies := []int64{payload.CompanyID}
		if payload.CompanyID == 0 {
			var err error
			companies, err = reader.ListStockedCompanies(ctx)
			if err != nil {
				return fmt.Errorf("jobs: list companies: %w", err)
			}
		}
		for _, companyID := range companies {
			items, err := reader.ListLowStock(ctx, companyID, 0)
			if err != nil {
				return fmt.Errorf("jobs: low stock scan company %d: %w", companyID, err)
			}
			for _, item := range items {
				logger.Warn("low stock alert",
					slog.Int64("company_id", companyID),
					slog.Int64("product_id", item.ProductID),
					slog.Int64("warehouse_id", item.WarehouseID),
					slog.String("sku", item.ProductSKU),
					slog.String("detail", AlertText(item)),
				)
			}
			logger.Info("low stock scan finished",
				slog.Int64("company_id", companyID),
				slog.Int("alerts", len(items)),
			)
		}
		return nil
	}
}

// AlertText renders a human-readable alert line for a low stock item.
func AlertText(item inventory.LowStockItem) string {
	return fmt.Sprintf("%s (%s) at %s on hand, threshold %s, value %s",
		item.ProductName,
		item.ProductSKU,
		shared.FormatQty(item.Quantity),
		shared.FormatQty(item.Threshold),
		shared.FormatAmount(item.TotalValue),
	)
}
