// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Window is a half-open offset range [Lo, Hi) within one worker's paginated query.
type Window struct {
	Lo int32
	Hi int32
}

// Contains reports whether w fully contains o.
func (w Window) Contains(o Window) bool { return w.Lo <= o.Lo && o.Hi <= w.Hi }

// Size returns the number of offsets covered by the window.
func (w Window) Size() int32 { return w.Hi - w.Lo }

// Worker is one delivery target bound to a marketplace query.
type Worker struct {
	ChatID    int64             // delivery target, PK
	DeviceID  *uuid.UUID        // bound credential, nil until first obtain
	ChunkSize int32             // page size, 1..50
	Query     map[string]string // marketplace query parameters
	Active    bool
	CreatedAt time.Time
}

// ChunkLease is a claim asserting an instance currently processes a window.
type ChunkLease struct {
	WorkerChatID int64
	Window       Window
	InstanceID   int32
	UpdatedAt    time.Time
}

// Stale reports whether the lease has not been touched for at least staleAfter.
func (l *ChunkLease) Stale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(l.UpdatedAt) >= staleAfter
}

// Credential is one device credential from the shared pool.
type Credential struct {
	DeviceID     uuid.UUID
	DeviceToken  string
	AccessToken  string // empty until the first successful refresh
	RefreshToken string
	ExpiresAt    *time.Time
}

// Expired reports whether the credential needs a refresh before use.
// No recorded expiry counts as expired.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.Before(now)
}

// Instance identifies one running crawler process. Rows are never expired;
// they remain for attribution after the process exits.
type Instance struct {
	ID int32
}

// Delivery is durable proof that a listing was sent to a worker.
type Delivery struct {
	WorkerChatID int64
	ListingID    int64
	MessageID    int64
}

// Category is a node of the marketplace category tree.
type Category struct {
	ID       int32
	ParentID *int32
	Name     string
	Code     string
	Type     string
	ViewType string
	Position int32
}

// User is the marketplace account that published a listing.
type User struct {
	ID          int64
	UUID        uuid.UUID
	Name        string
	CompanyName string
	About       string
	SellerType  string
	Created     *time.Time
	LastSeen    *time.Time
}

// Region, City and District form the listing location.
type Region struct {
	ID   int64
	Name string
}

type City struct {
	ID   int64
	Name string
}

type District struct {
	ID   int64
	Name string
}

// Price is the price parameter of a listing.
type Price struct {
	Value             float64
	Currency          string
	Label             string
	ConvertedValue    *float64
	ConvertedCurrency string
	Negotiable        bool
	Arranged          bool
}

// Param is a non-price listing parameter.
type Param struct {
	Key   string
	Name  string
	Type  string
	Label string
}

// Photo is one listing photo.
type Photo struct {
	ID       int64
	Filename string
	Width    int32
	Height   int32
}

// Phone is a contact phone revealed through the limited-phones endpoint.
type Phone struct {
	Number string
}

// Listing is a marketplace listing together with its nested sub-entities.
// Reference fields (User, Region, ...) are populated on read for rendering.
type Listing struct {
	ID            int64
	URL           string
	Title         string
	Description   string
	CategoryID    int32
	UserID        int64
	RegionID      int64
	CityID        int64
	DistrictID    *int64
	PartnerCode   string
	ShopSubdomain string

	IsBusiness     bool
	IsHighlighted  bool
	IsUrgent       bool
	IsTopAd        bool
	HasPhone       bool
	HasChat        bool
	HasNegotiation bool

	MapZoom      int32
	MapLatitude  float64
	MapLongitude float64

	CreatedTime     time.Time
	LastRefreshTime time.Time
	ValidToTime     time.Time

	Price  *Price
	Params []Param
	Photos []Photo
	Phones []Phone

	User     *User
	Region   *Region
	City     *City
	District *District
}
