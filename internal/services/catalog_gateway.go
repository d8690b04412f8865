package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketfold/api/internal/repositories"
)

// CatalogGatewayDeps bundles collaborators for the repository-backed catalog gateway.
type CatalogGatewayDeps struct {
	Catalog repositories.CatalogRepository
}

type catalogGateway struct {
	catalog repositories.CatalogRepository
}

var _ CatalogGateway = (*catalogGateway)(nil)

// NewCatalogGateway adapts the catalog repository into the snapshot interface
// used at checkout.
func NewCatalogGateway(deps CatalogGatewayDeps) (CatalogGateway, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog gateway: catalog repository is required")
	}
	return &catalogGateway{catalog: deps.Catalog}, nil
}

func (g *catalogGateway) Snapshot(ctx context.Context, productRef string) (ProductSnapshot, error) {
	listing, err := g.catalog.FindListing(ctx, productRef)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ProductSnapshot{}, fmt.Errorf("listing not found")
		}
		return ProductSnapshot{}, err
	}
	if !listing.Active {
		return ProductSnapshot{}, fmt.Errorf("listing is not purchasable")
	}

	return ProductSnapshot{
		ProductRef:    listing.ProductRef,
		SellerRef:     listing.SellerRef,
		Name:          listing.Name,
		UnitPrice:     listing.UnitPrice,
		Currency:      listing.Currency,
		CommissionBps: listing.CommissionBps,
	}, nil
}
