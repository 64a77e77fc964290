package billing

import "strings"

// CreditPackage is one of the fixed prepaid credit bundles.
type CreditPackage struct {
	ID          string
	DisplayName string
	Credits     int64
	PriceCents  int64
}

// Packages holds all purchasable packages keyed by package ID.
var Packages = map[string]*CreditPackage{
	"starter": {
		ID:          "starter",
		DisplayName: "Starter",
		Credits:     100,
		PriceCents:  499,
	},
	"popular": {
		ID:          "popular",
		DisplayName: "Popular",
		Credits:     500,
		PriceCents:  1499,
	},
	"pro": {
		ID:          "pro",
		DisplayName: "Pro",
		Credits:     1500,
		PriceCents:  3499,
	},
}

// PackageOrder defines the display ordering of packages.
var PackageOrder = []string{"starter", "popular", "pro"}

// GetPackage returns a package by its selector, or nil.
func GetPackage(selector string) *CreditPackage {
	return Packages[strings.ToLower(strings.TrimSpace(selector))]
}
