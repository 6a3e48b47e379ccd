// AngelaMos | 2026
// entity.go

package ledger

import (
	"time"
)

const (
	PlanSingle = "single"
	PlanFamily = "family"
)

// Entitlement is the per-user source of truth for premium access. It is
// mutated only by this package; clients read it through GetStatus.
type Entitlement struct {
	UserID         string    `db:"user_id"`
	Premium        bool      `db:"premium"`
	PlanType       *string   `db:"plan_type"`
	ActiveDeviceID *string   `db:"active_device_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (e *Entitlement) Plan() string {
	if e.PlanType == nil {
		return ""
	}
	return *e.PlanType
}

func (e *Entitlement) DeviceBound() bool {
	return e.ActiveDeviceID != nil && *e.ActiveDeviceID != ""
}

func (e *Entitlement) DeviceMatches(deviceHash string) bool {
	return e.ActiveDeviceID != nil && *e.ActiveDeviceID == deviceHash
}

// Purchase rows are append-only: never deleted, only flagged refunded.
type Purchase struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	Platform     string     `db:"platform"`
	ProductID    string     `db:"product_id"`
	ReceiptToken string     `db:"receipt_token"`
	Verified     bool       `db:"verified"`
	Refunded     bool       `db:"refunded"`
	DeviceHash   string     `db:"device_hash"`
	Nonce        string     `db:"nonce"`
	OrderID      *string    `db:"order_id"`
	CreatedAt    time.Time  `db:"created_at"`
	RefundedAt   *time.Time `db:"refunded_at"`
}

func (p *Purchase) Active() bool {
	return p.Verified && !p.Refunded
}
