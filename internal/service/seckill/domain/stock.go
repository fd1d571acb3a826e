package domain

import "fmt"

// StockEntry 是库存账本中一个商品的条目，只能由库存账本修改。
// Restored 与库存回补在同一次原子写入中落盘，因此回补对同一预留号天然幂等。
type StockEntry struct {
	ProductID string   `json:"product_id"`
	Total     int64    `json:"total"`
	Remaining int64    `json:"remaining"`
	Sequence  uint64   `json:"sequence"`
	Epoch     string   `json:"epoch"`
	Restored  []string `json:"restored,omitempty"`
}

func NewStockEntry(productID string, total int64, epoch string) *StockEntry {
	return &StockEntry{
		ProductID: productID,
		Total:     total,
		Remaining: total,
		Epoch:     epoch,
	}
}

// Reserve 扣减 qty；库存不足时不修改条目，返回的 *StockShortageError 带有当前剩余量
func (e *StockEntry) Reserve(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidRequest, qty)
	}
	if e.Remaining < qty {
		return &StockShortageError{ProductID: e.ProductID, Remaining: e.Remaining, Requested: qty}
	}
	e.Remaining -= qty
	e.Sequence++
	return nil
}

// Restore 回补一次预留；同一预留号重复回补返回 false 且不修改条目
func (e *StockEntry) Restore(reservationID string, qty int64) (bool, error) {
	if e.HasRestored(reservationID) {
		return false, nil
	}
	if qty <= 0 {
		return false, fmt.Errorf("%w: quantity %d", ErrInvalidRequest, qty)
	}
	if e.Remaining+qty > e.Total {
		return false, fmt.Errorf("%w: product %s remaining=%d qty=%d total=%d",
			ErrRestoreOverflow, e.ProductID, e.Remaining, qty, e.Total)
	}
	e.Remaining += qty
	e.Restored = append(e.Restored, reservationID)
	e.Sequence++
	return true, nil
}

func (e *StockEntry) HasRestored(reservationID string) bool {
	for _, id := range e.Restored {
		if id == reservationID {
			return true
		}
	}
	return false
}

// Matches 判断已有条目是否属于同一次初始化
func (e *StockEntry) Matches(total int64, epoch string) bool {
	return e.Total == total && e.Epoch == epoch
}
