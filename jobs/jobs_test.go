package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

type memStockReader struct {
	companies []int64
	lowStock  map[int64][]inventory.LowStockItem
	scanned   []int64
}

func (m *memStockReader) ListStockedCompanies(context.Context) ([]int64, error) {
	return m.companies, nil
}

func (m *memStockReader) ListLowStock(_ context.Context, companyID, _ int64) ([]inventory.LowStockItem, error) {
	m.scanned = append(m.scanned, companyID)
	return m.lowStock[companyID], nil
}

type memCleaner struct {
	olderThan time.Duration
	calls     int
}

func (m *memCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	m.calls++
	m.olderThan = olderThan
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLowStockScanSweepsAllCompanies(t *testing.T) {
	reader := &memStockReader{
		companies: []int64{10, 20},
		lowStock: map[int64][]inventory.LowStockItem{
			10: {{ProductSKU: "SKU-1", ProductName: "Widget", Threshold: 5}},
		},
	}
	task, err := NewLowStockScanTask(time.Now(), 0)
	require.NoError(t, err)

	handler := NewLowStockScanHandler(discardLogger(), reader)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{10, 20}, reader.scanned)
}

func TestLowStockScanSingleCompany(t *testing.T) {
	reader := &memStockReader{companies: []int64{10, 20}}
	task, err := NewLowStockScanTask(time.Now(), 20)
	require.NoError(t, err)

	handler := NewLowStockScanHandler(discardLogger(), reader)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []int64{20}, reader.scanned)
}

func TestLowStockScanRejectsGarbagePayload(t *testing.T) {
	handler := NewLowStockScanHandler(discardLogger(), &memStockReader{})
	err := handler(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAlertTextFormatsQuantities(t *testing.T) {
	item := inventory.LowStockItem{ProductSKU: "SKU-1", ProductName: "Widget", Threshold: 10}
	item.Quantity = 4
	item.TotalValue = 1234.5
	require.Equal(t, "Widget (SKU-1) at 4 on hand, threshold 10, value 1,234.50", AlertText(item))
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	cleaner := &memCleaner{}
	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)

	handler := NewIdempotencyCleanupHandler(discardLogger(), cleaner)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, cleaner.calls)
	require.Equal(t, 48*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &memCleaner{}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	handler := NewIdempotencyCleanupHandler(discardLogger(), cleaner)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.olderThan)
}
