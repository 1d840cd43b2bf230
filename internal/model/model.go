// Package model содержит доменные сущности сервиса эскроу.
package model

import "time"

// EscrowStatus описывает состояние удерживаемого платежа по заказу.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusDisputed EscrowStatus = "disputed"
)

// OrderStatusReleasedToWallet выставляется заказу после перевода средств в кошелёк продавца.
const OrderStatusReleasedToWallet = "released_to_vendor_wallet"

// TransactionStatusReleased выставляется платёжной транзакции при выплате.
const TransactionStatusReleased = "released"

// LedgerKindEscrowRelease помечает запись журнала кошелька, созданную выплатой из эскроу.
const LedgerKindEscrowRelease = "escrow_release"

// Order описывает заказ с удерживаемой оплатой.
// HoldUntilMs задаёт момент (epoch ms), начиная с которого средства можно выплатить; 0 означает, что срок не задан.
type Order struct {
	ID               string
	BusinessID       string
	AmountKobo       int64
	EscrowStatus     EscrowStatus
	HoldUntilMs      int64
	OrderStatus      string
	PaymentReference string
	ReleasedAt       *time.Time
	UpdatedAt        time.Time
}

// IsHeld сообщает, удерживаются ли средства по заказу.
func (o Order) IsHeld() bool {
	return o.EscrowStatus == EscrowStatusHeld
}

// HoldElapsed сообщает, истёк ли срок удержания к моменту now.
func (o Order) HoldElapsed(now time.Time) bool {
	return now.UnixMilli() >= o.HoldUntilMs
}

// DueForSweep сообщает, должен ли заказ попасть в пакет выплат: срок задан и уже истёк.
func (o Order) DueForSweep(now time.Time) bool {
	return o.HoldUntilMs > 0 && o.HoldUntilMs <= now.UnixMilli()
}

// ValidForRelease проверяет, что у заказа есть продавец и положительная сумма.
func (o Order) ValidForRelease() bool {
	return o.BusinessID != "" && o.AmountKobo > 0
}

// Wallet содержит балансы продавца в кобо.
type Wallet struct {
	BusinessID           string    `json:"businessId"`
	PendingBalanceKobo   int64     `json:"pendingBalanceKobo"`
	AvailableBalanceKobo int64     `json:"availableBalanceKobo"`
	TotalEarnedKobo      int64     `json:"totalEarnedKobo"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Transaction описывает запись платёжного шлюза, привязанную к заказу по reference.
type Transaction struct {
	Reference string
	Status    string
	UpdatedAt time.Time
}

// LedgerEntry фиксирует зачисление в кошелёк продавца.
type LedgerEntry struct {
	ID         string
	BusinessID string
	OrderID    string
	AmountKobo int64
	Kind       string
	CreatedAt  time.Time
}
