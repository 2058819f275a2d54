package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
)

// PackageID identifies a paid tier, e.g. "premium".
type PackageID string

func NormalizePackageID(s string) PackageID {
	return PackageID(strings.ToLower(strings.TrimSpace(s)))
}

// Package is a purchasable tier with one price per settlement currency.
type Package struct {
	ID       PackageID                  `json:"id"`
	Name     string                     `json:"name"`
	Prices   map[string]decimal.Decimal `json:"prices"`
	Lifetime bool                       `json:"lifetime"`
}

// PriceTable is the static catalogue the pricing resolver works from.
type PriceTable map[PackageID]Package

func (t PriceTable) Lookup(id PackageID) (Package, bool) {
	p, ok := t[id]
	return p, ok
}

// Price returns the package price in currency; unknown packages or currencies report false.
func (t PriceTable) Price(id PackageID, currency string) (decimal.Decimal, bool) {
	p, ok := t[id]
	if !ok {
		return decimal.Zero, false
	}
	v, ok := p.Prices[strings.ToUpper(currency)]
	return v, ok
}

// Sorted returns packages ordered by ascending USD price, then id.
func (t PriceTable) Sorted() []Package {
	out := make([]Package, 0, len(t))
	for _, p := range t {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Prices["USD"], out[j].Prices["USD"]
		if !pi.Equal(pj) {
			return pi.LessThan(pj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UserPackage is an entitlement grant. At most one row per user is active.
type UserPackage struct {
	ID          string
	UserID      string
	PaymentID   string
	PackageType PackageID
	PackageName string
	AmountPaid  decimal.Decimal
	IsActive    bool
	IsLifetime  bool
	ActivatedAt time.Time
}

// NewUserPackage builds the active grant for a completed payment.
func NewUserPackage(rec *PaymentRecord, lifetime bool) (*UserPackage, error) {
	if rec == nil || rec.UserID == "" || rec.PackageType == "" {
		return nil, domain.ErrInvalidArgument
	}
	if rec.Status != PaymentStatusCompleted {
		return nil, domain.ErrInvalidArgument
	}
	return &UserPackage{
		ID:          uuid.NewString(),
		UserID:      rec.UserID,
		PaymentID:   rec.ID,
		PackageType: rec.PackageType,
		PackageName: rec.PackageName,
		AmountPaid:  rec.Amount,
		IsActive:    true,
		IsLifetime:  lifetime,
		ActivatedAt: time.Now(),
	}, nil
}
