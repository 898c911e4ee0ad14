package repository

import (
	"context"

	"github.com/and161185/listing-scout/internal/model"
)

// ListingRepository persists mapped marketplace entities and reads them back
// with everything needed to render a delivery message.
type ListingRepository interface {
	// Save persists the listing and its nested sub-entities. Rows that already
	// exist are left untouched (first write wins, matching the feed's
	// newest-first ordering).
	Save(ctx context.Context, l *model.Listing) error

	// Get loads a listing with user, location, price, params, photos and phones.
	Get(ctx context.Context, id int64) (*model.Listing, error)

	// AddPhones stores phones revealed through the limited-phones endpoint.
	AddPhones(ctx context.Context, listingID int64, phones []model.Phone) error
}

// CategoryRepository stores the marketplace category tree.
type CategoryRepository interface {
	// Any reports whether any category rows exist.
	Any(ctx context.Context) (bool, error)

	// Upsert creates or updates one category.
	Upsert(ctx context.Context, c *model.Category) error

	// Path returns the chain from root to the given category, root first.
	Path(ctx context.Context, id int32) ([]model.Category, error)
}
