package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/repository"
)

// ResolveAmount returns what a user holding current pays to move to target:
// max(price(target) - price(current), 0) in currency, rounded to cents.
// A nil or unknown current package counts as price 0.
func ResolveAmount(current *model.PackageID, target model.PackageID, table model.PriceTable, currency string) (decimal.Decimal, error) {
	targetPrice, ok := table.Price(target, currency)
	if !ok {
		if _, known := table.Lookup(target); !known {
			return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrUnknownPackage, target)
		}
		return decimal.Zero, fmt.Errorf("%w: package %q has no %s price", domain.ErrValidation, target, currency)
	}

	currentPrice := decimal.Zero
	if current != nil {
		if p, ok := table.Price(*current, currency); ok {
			currentPrice = p
		}
	}

	delta := targetPrice.Sub(currentPrice)
	if delta.IsNegative() {
		return decimal.Zero, nil
	}
	return delta.Round(2), nil
}

// FormatAmount renders an amount the way gateways report it ("0.50").
func FormatAmount(d decimal.Decimal) string { return d.StringFixed(2) }

// Quote is a priced checkout proposal.
type Quote struct {
	Package  model.Package
	Current  *model.PackageID
	Amount   decimal.Decimal
	Currency string
}

// PricingUseCase computes the server-side amount for a package purchase.
type PricingUseCase interface {
	// Quote prices target for userID, paying through method.
	Quote(ctx context.Context, userID string, target model.PackageID, method model.PaymentMethod) (*Quote, error)
	// Packages lists the catalogue, cheapest first.
	Packages() []model.Package
}

var _ PricingUseCase = (*pricingUC)(nil)

type pricingUC struct {
	table    model.PriceTable
	packages repository.UserPackageRepository
	log      *zerolog.Logger
}

// uncachedSource is implemented by caching user-package repositories.
type uncachedSource interface {
	Uncached() repository.UserPackageRepository
}

// NewPricingUseCase constructs the resolver over a fixed price table. Quotes
// always read the current package from the database, never from a cache.
func NewPricingUseCase(table model.PriceTable, packages repository.UserPackageRepository, logger *zerolog.Logger) *pricingUC {
	if src, ok := packages.(uncachedSource); ok {
		packages = src.Uncached()
	}
	return &pricingUC{table: table, packages: packages, log: nopIfNil(logger)}
}

func (p *pricingUC) Packages() []model.Package { return p.table.Sorted() }

func (p *pricingUC) Quote(ctx context.Context, userID string, target model.PackageID, method model.PaymentMethod) (*Quote, error) {
	pkg, ok := p.table.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPackage, target)
	}

	var current *model.PackageID
	active, err := p.packages.FindActiveByUser(ctx, repository.NoTX, userID)
	switch {
	case err == nil:
		current = &active.PackageType
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	currency := method.Currency()
	amount, err := ResolveAmount(current, target, p.table, currency)
	if err != nil {
		return nil, err
	}
	p.log.Debug().Str("user_id", userID).Str("package", string(target)).
		Str("amount", FormatAmount(amount)).Str("currency", currency).Msg("quote")
	return &Quote{Package: pkg, Current: current, Amount: amount, Currency: currency}, nil
}

func nopIfNil(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		n := zerolog.Nop()
		return &n
	}
	return l
}
