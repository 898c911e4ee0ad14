package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/listing-scout/internal/errs"
	"github.com/and161185/listing-scout/internal/model"
)

// ListingRepo implements ListingRepository using PostgreSQL.
type ListingRepo struct{ db *DB }

// NewListingRepo constructs a listing repository.
func NewListingRepo(db *DB) *ListingRepo { return &ListingRepo{db: db} }

// Save persists the listing and its nested sub-entities in one transaction.
// Existing rows are left untouched: the feed is newest-first, so the first
// write of an id is also the freshest one this instance has seen.
func (r *ListingRepo) Save(ctx context.Context, l *model.Listing) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insUser = `
INSERT INTO users (id, uuid, name, company_name, about, seller_type, created, last_seen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`
	if _, err = tx.Exec(ctx, insUser,
		l.User.ID, l.User.UUID, l.User.Name, l.User.CompanyName, l.User.About,
		l.User.SellerType, l.User.Created, l.User.LastSeen,
	); err != nil {
		return err
	}

	const insRegion = `INSERT INTO regions (id, name) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING`
	if _, err = tx.Exec(ctx, insRegion, l.Region.ID, l.Region.Name); err != nil {
		return err
	}
	const insCity = `INSERT INTO cities (id, name) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING`
	if _, err = tx.Exec(ctx, insCity, l.City.ID, l.City.Name); err != nil {
		return err
	}
	if l.District != nil {
		const insDistrict = `INSERT INTO districts (id, name) VALUES ($1,$2) ON CONFLICT (id) DO NOTHING`
		if _, err = tx.Exec(ctx, insDistrict, l.District.ID, l.District.Name); err != nil {
			return err
		}
	}

	const insListing = `
INSERT INTO listings (
  id, url, title, description, category_id, user_id, region_id, city_id, district_id,
  partner_code, shop_subdomain,
  is_business, is_highlighted, is_urgent, is_top_ad, has_phone, has_chat, has_negotiation,
  map_zoom, map_latitude, map_longitude,
  created_time, last_refresh_time, valid_to_time
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
ON CONFLICT (id) DO NOTHING`
	if _, err = tx.Exec(ctx, insListing,
		l.ID, l.URL, l.Title, l.Description, l.CategoryID, l.UserID, l.RegionID, l.CityID, l.DistrictID,
		l.PartnerCode, l.ShopSubdomain,
		l.IsBusiness, l.IsHighlighted, l.IsUrgent, l.IsTopAd, l.HasPhone, l.HasChat, l.HasNegotiation,
		l.MapZoom, l.MapLatitude, l.MapLongitude,
		l.CreatedTime, l.LastRefreshTime, l.ValidToTime,
	); err != nil {
		return err
	}

	if l.Price != nil {
		const insPrice = `
INSERT INTO listing_prices (listing_id, value, currency, label, converted_value, converted_currency, negotiable, arranged)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (listing_id) DO NOTHING`
		if _, err = tx.Exec(ctx, insPrice,
			l.ID, l.Price.Value, l.Price.Currency, l.Price.Label,
			l.Price.ConvertedValue, nullIfEmpty(l.Price.ConvertedCurrency),
			l.Price.Negotiable, l.Price.Arranged,
		); err != nil {
			return err
		}
	}

	const insParam = `
INSERT INTO listing_params (listing_id, key, name, type, label)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (listing_id, key) DO NOTHING`
	for _, p := range l.Params {
		if _, err = tx.Exec(ctx, insParam, l.ID, p.Key, p.Name, p.Type, p.Label); err != nil {
			return err
		}
	}

	const insPhoto = `
INSERT INTO listing_photos (id, listing_id, filename, width, height)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`
	for _, p := range l.Photos {
		if _, err = tx.Exec(ctx, insPhoto, p.ID, l.ID, p.Filename, p.Width, p.Height); err != nil {
			return err
		}
	}

	return nil
}

// Get loads a listing with user, location, price, params, photos and phones.
func (r *ListingRepo) Get(ctx context.Context, id int64) (*model.Listing, error) {
	const q = `
SELECT l.id, l.url, l.title, l.description, l.category_id, l.user_id, l.region_id, l.city_id, l.district_id,
       COALESCE(l.partner_code,''), COALESCE(l.shop_subdomain,''),
       l.is_business, l.is_highlighted, l.is_urgent, l.is_top_ad, l.has_phone, l.has_chat, l.has_negotiation,
       l.map_zoom, l.map_latitude, l.map_longitude,
       l.created_time, l.last_refresh_time, l.valid_to_time,
       u.uuid, u.name, COALESCE(u.company_name,''), COALESCE(u.about,''), COALESCE(u.seller_type,''), u.created, u.last_seen,
       r.name, c.name, d.name
FROM listings l
JOIN users u ON u.id = l.user_id
JOIN regions r ON r.id = l.region_id
JOIN cities c ON c.id = l.city_id
LEFT JOIN districts d ON d.id = l.district_id
WHERE l.id = $1`
	var (
		l            model.Listing
		user         model.User
		region       model.Region
		city         model.City
		districtName *string
	)
	row := r.db.Pool.QueryRow(ctx, q, id)
	if err := row.Scan(
		&l.ID, &l.URL, &l.Title, &l.Description, &l.CategoryID, &l.UserID, &l.RegionID, &l.CityID, &l.DistrictID,
		&l.PartnerCode, &l.ShopSubdomain,
		&l.IsBusiness, &l.IsHighlighted, &l.IsUrgent, &l.IsTopAd, &l.HasPhone, &l.HasChat, &l.HasNegotiation,
		&l.MapZoom, &l.MapLatitude, &l.MapLongitude,
		&l.CreatedTime, &l.LastRefreshTime, &l.ValidToTime,
		&user.UUID, &user.Name, &user.CompanyName, &user.About, &user.SellerType, &user.Created, &user.LastSeen,
		&region.Name, &city.Name, &districtName,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	user.ID, region.ID, city.ID = l.UserID, l.RegionID, l.CityID
	l.User, l.Region, l.City = &user, &region, &city
	if l.DistrictID != nil && districtName != nil {
		l.District = &model.District{ID: *l.DistrictID, Name: *districtName}
	}

	if err := r.loadPrice(ctx, &l); err != nil {
		return nil, err
	}
	if err := r.loadParams(ctx, &l); err != nil {
		return nil, err
	}
	if err := r.loadPhotos(ctx, &l); err != nil {
		return nil, err
	}
	if err := r.loadPhones(ctx, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *ListingRepo) loadPrice(ctx context.Context, l *model.Listing) error {
	const q = `
SELECT value, currency, label, converted_value, COALESCE(converted_currency,''), negotiable, arranged
FROM listing_prices WHERE listing_id=$1`
	var p model.Price
	row := r.db.Pool.QueryRow(ctx, q, l.ID)
	err := row.Scan(&p.Value, &p.Currency, &p.Label, &p.ConvertedValue, &p.ConvertedCurrency, &p.Negotiable, &p.Arranged)
	switch {
	case err == nil:
		l.Price = &p
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	default:
		return err
	}
}

func (r *ListingRepo) loadParams(ctx context.Context, l *model.Listing) error {
	const q = `SELECT key, name, type, label FROM listing_params WHERE listing_id=$1 ORDER BY key`
	rows, err := r.db.Pool.Query(ctx, q, l.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Param
		if err := rows.Scan(&p.Key, &p.Name, &p.Type, &p.Label); err != nil {
			return err
		}
		l.Params = append(l.Params, p)
	}
	return rows.Err()
}

func (r *ListingRepo) loadPhotos(ctx context.Context, l *model.Listing) error {
	const q = `SELECT id, filename, width, height FROM listing_photos WHERE listing_id=$1 ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, q, l.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Photo
		if err := rows.Scan(&p.ID, &p.Filename, &p.Width, &p.Height); err != nil {
			return err
		}
		l.Photos = append(l.Photos, p)
	}
	return rows.Err()
}

func (r *ListingRepo) loadPhones(ctx context.Context, l *model.Listing) error {
	const q = `SELECT number FROM listing_phones WHERE listing_id=$1 ORDER BY number`
	rows, err := r.db.Pool.Query(ctx, q, l.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Phone
		if err := rows.Scan(&p.Number); err != nil {
			return err
		}
		l.Phones = append(l.Phones, p)
	}
	return rows.Err()
}

// AddPhones stores phones revealed through the limited-phones endpoint.
func (r *ListingRepo) AddPhones(ctx context.Context, listingID int64, phones []model.Phone) error {
	const q = `
INSERT INTO listing_phones (listing_id, number) VALUES ($1,$2)
ON CONFLICT (listing_id, number) DO NOTHING`
	for _, p := range phones {
		if _, err := r.db.Pool.Exec(ctx, q, listingID, p.Number); err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
