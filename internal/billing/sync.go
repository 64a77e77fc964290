package billing

import (
	"context"
	"fmt"

	"github.com/blagoySimandov/transcriptmagic/internal/logger"
	"github.com/stripe/stripe-go/v84"
)

const stripeMetadataPackage = "credit_package"

// SyncCatalog makes sure every credit package has an active Stripe product
// with a one-time price and records the price ids for checkout. Packages
// already mapped through configuration are left alone.
func (s *Stripe) SyncCatalog(ctx context.Context) error {
	if !s.configured {
		return fmt.Errorf("%w: stripe secret key not set", ErrMisconfigured)
	}

	products, err := s.listActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	prices, err := s.listActivePrices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list prices: %w", err)
	}

	for _, packageID := range PackageOrder {
		pkg := Packages[packageID]
		if s.priceFor(pkg.ID) != "" {
			continue
		}
		priceID, err := s.syncPackage(ctx, pkg, products, prices)
		if err != nil {
			return fmt.Errorf("failed to sync package %s: %w", pkg.ID, err)
		}
		s.setPrice(pkg.ID, priceID)
		logger.Log.Info("stripe package synced", "package", pkg.ID, "price_id", priceID)
	}

	return nil
}

func (s *Stripe) listActiveProducts(ctx context.Context) ([]*stripe.Product, error) {
	var products []*stripe.Product
	for p, err := range s.sc.V1Products.List(ctx, &stripe.ProductListParams{Active: stripe.Bool(true)}) {
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Stripe) listActivePrices(ctx context.Context) ([]*stripe.Price, error) {
	var prices []*stripe.Price
	for p, err := range s.sc.V1Prices.List(ctx, &stripe.PriceListParams{Active: stripe.Bool(true)}) {
		if err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, nil
}

func findProduct(products []*stripe.Product, packageID string) string {
	for _, p := range products {
		if p.Metadata[stripeMetadataPackage] == packageID {
			return p.ID
		}
	}
	return ""
}

func findPrice(prices []*stripe.Price, productID string, amountCents int64) string {
	for _, p := range prices {
		if p.Product != nil && p.Product.ID == productID && p.UnitAmount == amountCents && p.Recurring == nil {
			return p.ID
		}
	}
	return ""
}

func (s *Stripe) syncPackage(ctx context.Context, pkg *CreditPackage, products []*stripe.Product, prices []*stripe.Price) (string, error) {
	productID := findProduct(products, pkg.ID)
	if productID == "" {
		product, err := s.sc.V1Products.Create(ctx, &stripe.ProductCreateParams{
			Name:        stripe.String(fmt.Sprintf("TranscriptMagic %s", pkg.DisplayName)),
			Description: stripe.String(fmt.Sprintf("%d transcript credits", pkg.Credits)),
			Metadata: map[string]string{
				stripeMetadataPackage: pkg.ID,
				MetadataCredits:       formatCredits(pkg.Credits),
			},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create product: %w", err)
		}
		productID = product.ID
	}

	if id := findPrice(prices, productID, pkg.PriceCents); id != "" {
		return id, nil
	}

	price, err := s.sc.V1Prices.Create(ctx, &stripe.PriceCreateParams{
		Product:    stripe.String(productID),
		Currency:   stripe.String(string(stripe.CurrencyUSD)),
		UnitAmount: stripe.Int64(pkg.PriceCents),
		Metadata: map[string]string{
			stripeMetadataPackage: pkg.ID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create price: %w", err)
	}
	return price.ID, nil
}
