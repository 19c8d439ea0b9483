package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Account состояние счета. Баланс меняется только через Manager.
type Account struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// NewAccount создает счет с начальным балансом
func NewAccount(initial float64) *Account {
	return &Account{balance: decimal.NewFromFloat(initial)}
}

// Balance текущий баланс
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance.InexactFloat64()
}

// update выполняет чтение-изменение-запись под одной блокировкой
func (a *Account) update(fn func(current decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := fn(a.balance)
	if err != nil {
		return a.balance, err
	}
	a.balance = next
	return next, nil
}
