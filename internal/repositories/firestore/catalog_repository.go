package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/marketfold/api/internal/domain"
	pfirestore "github.com/marketfold/api/internal/platform/firestore"
	"github.com/marketfold/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	SellerRef     string    `firestore:"sellerRef"`
	Name          string    `firestore:"name"`
	UnitPrice     int64     `firestore:"unitPrice"`
	Currency      string    `firestore:"currency"`
	CommissionBps int       `firestore:"commissionBps"`
	Active        bool      `firestore:"active"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// CatalogRepository implements repositories.CatalogRepository backed by the
// products collection.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &CatalogRepository{
		provider: provider,
		products: base,
	}, nil
}

// FindListing resolves the current listing for a product reference.
func (r *CatalogRepository) FindListing(ctx context.Context, productRef string) (domain.ProductListing, error) {
	if r == nil || r.products == nil {
		return domain.ProductListing{}, errors.New("catalog repository not initialised")
	}
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return domain.ProductListing{}, errors.New("catalog: product ref is required")
	}

	doc, err := r.products.Get(ctx, ref)
	if err != nil {
		return domain.ProductListing{}, pfirestore.WrapError("catalog.get", err)
	}

	return domain.ProductListing{
		ProductRef:    ref,
		SellerRef:     doc.Data.SellerRef,
		Name:          doc.Data.Name,
		UnitPrice:     doc.Data.UnitPrice,
		Currency:      strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		CommissionBps: doc.Data.CommissionBps,
		Active:        doc.Data.Active,
	}, nil
}
