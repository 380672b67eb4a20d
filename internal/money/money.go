// Package money provides an integer minor-unit amount with currency checks.
package money

import (
	"errors"
	"math"
)

var (
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrNegativeAmount   = errors.New("negative_amount")
	ErrInvalidRate      = errors.New("invalid_rate")
)

// Money is an immutable amount in minor units (cents) plus ISO currency code.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func New(amount int64, currency string) (Money, error) {
	if amount < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustNew panics on invalid input. Intended for constants and tests.
func MustNew(amount int64, currency string) Money {
	m, err := New(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) IsZero() bool { return m.Amount == 0 }

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	sum := m.Amount + other.Amount
	if sum < m.Amount {
		return Money{}, errors.New("amount_overflow")
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Sub fails with ErrNegativeAmount when the result would drop below zero.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	if other.Amount > m.Amount {
		return Money{}, ErrNegativeAmount
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// PercentageOf returns rate percent of the amount, rounded half-up to the
// nearest minor unit.
func (m Money) PercentageOf(rate int64) (Money, error) {
	if rate < 0 || rate > 100 {
		return Money{}, ErrInvalidRate
	}
	if rate > 0 && m.Amount > (math.MaxInt64-50)/rate {
		return Money{}, errors.New("amount_overflow")
	}
	value := (m.Amount*rate + 50) / 100
	return Money{Amount: value, Currency: m.Currency}, nil
}

// Min returns the smaller of the two amounts. Currencies must match.
func (m Money) Min(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	if other.Amount < m.Amount {
		return other, nil
	}
	return m, nil
}

func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

func (m Money) LessThan(other Money) (bool, error) {
	if m.Currency != other.Currency {
		return false, ErrCurrencyMismatch
	}
	return m.Amount < other.Amount, nil
}
