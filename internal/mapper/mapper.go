// Package mapper converts raw marketplace JSON into domain entities.
// All functions are pure: no I/O, one typed error per malformed item so a bad
// item never affects its siblings.
package mapper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/listing-scout/internal/model"
)

// ItemError reports one malformed input item.
type ItemError struct {
	Entity string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Entity, e.Reason)
}

func itemErr(entity, format string, args ...any) *ItemError {
	return &ItemError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}

type rawListing struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Business    bool   `json:"business"`
	Category    struct {
		ID int32 `json:"id"`
	} `json:"category"`
	Partner *struct {
		Code string `json:"code"`
	} `json:"partner"`
	Shop *struct {
		Subdomain string `json:"subdomain"`
	} `json:"shop"`
	Promotion struct {
		Highlighted bool `json:"highlighted"`
		Urgent      bool `json:"urgent"`
		TopAd       bool `json:"top_ad"`
	} `json:"promotion"`
	Contact struct {
		Phone       bool `json:"phone"`
		Chat        bool `json:"chat"`
		Negotiation bool `json:"negotiation"`
	} `json:"contact"`
	Map struct {
		Zoom int32   `json:"zoom"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	} `json:"map"`
	CreatedTime     string          `json:"created_time"`
	LastRefreshTime string          `json:"last_refresh_time"`
	ValidToTime     string          `json:"valid_to_time"`
	User            json.RawMessage `json:"user"`
	Location        struct {
		Region   json.RawMessage `json:"region"`
		City     json.RawMessage `json:"city"`
		District json.RawMessage `json:"district"`
	} `json:"location"`
	Photos []rawPhoto `json:"photos"`
	Params []rawParam `json:"params"`
}

type rawPhoto struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Width    int32  `json:"width"`
	Height   int32  `json:"height"`
}

type rawParam struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value struct {
		Label             string   `json:"label"`
		Value             float64  `json:"value"`
		ConvertedValue    *float64 `json:"converted_value"`
		Currency          string   `json:"currency"`
		ConvertedCurrency string   `json:"converted_currency"`
		Negotiable        bool     `json:"negotiable"`
		Arranged          bool     `json:"arranged"`
	} `json:"value"`
}

type rawPlace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Listing maps one raw listing item, including its nested user, location,
// photos, params and price.
func Listing(raw json.RawMessage) (*model.Listing, error) {
	var r rawListing
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, itemErr("listing", "decode: %v", err)
	}
	if r.ID <= 0 {
		return nil, itemErr("listing", "missing id")
	}
	if r.Title == "" || r.URL == "" {
		return nil, itemErr("listing", "listing %d: missing title or url", r.ID)
	}
	if r.Category.ID <= 0 {
		return nil, itemErr("listing", "listing %d: missing category", r.ID)
	}

	created, err := parseTime("listing", r.CreatedTime)
	if err != nil {
		return nil, err
	}
	refreshed, err := parseTime("listing", r.LastRefreshTime)
	if err != nil {
		return nil, err
	}
	validTo, err := parseTime("listing", r.ValidToTime)
	if err != nil {
		return nil, err
	}

	user, err := User(r.User)
	if err != nil {
		return nil, err
	}
	region, err := place("region", r.Location.Region)
	if err != nil {
		return nil, err
	}
	city, err := place("city", r.Location.City)
	if err != nil {
		return nil, err
	}

	l := &model.Listing{
		ID:              r.ID,
		URL:             r.URL,
		Title:           r.Title,
		Description:     r.Description,
		CategoryID:      r.Category.ID,
		UserID:          user.ID,
		RegionID:        region.ID,
		CityID:          city.ID,
		IsBusiness:      r.Business,
		IsHighlighted:   r.Promotion.Highlighted,
		IsUrgent:        r.Promotion.Urgent,
		IsTopAd:         r.Promotion.TopAd,
		HasPhone:        r.Contact.Phone,
		HasChat:         r.Contact.Chat,
		HasNegotiation:  r.Contact.Negotiation,
		MapZoom:         r.Map.Zoom,
		MapLatitude:     r.Map.Lat,
		MapLongitude:    r.Map.Lon,
		CreatedTime:     created,
		LastRefreshTime: refreshed,
		ValidToTime:     validTo,
		User:            user,
		Region:          &model.Region{ID: region.ID, Name: region.Name},
		City:            &model.City{ID: city.ID, Name: city.Name},
	}
	if r.Partner != nil {
		l.PartnerCode = r.Partner.Code
	}
	if r.Shop != nil {
		l.ShopSubdomain = r.Shop.Subdomain
	}
	if len(r.Location.District) > 0 && string(r.Location.District) != "null" {
		district, err := place("district", r.Location.District)
		if err != nil {
			return nil, err
		}
		l.DistrictID = &district.ID
		l.District = &model.District{ID: district.ID, Name: district.Name}
	}

	for _, p := range r.Photos {
		l.Photos = append(l.Photos, model.Photo{ID: p.ID, Filename: p.Filename, Width: p.Width, Height: p.Height})
	}
	for _, p := range r.Params {
		if p.Type == "price" {
			l.Price = &model.Price{
				Value:             p.Value.Value,
				Currency:          p.Value.Currency,
				Label:             p.Value.Label,
				ConvertedValue:    p.Value.ConvertedValue,
				ConvertedCurrency: p.Value.ConvertedCurrency,
				Negotiable:        p.Value.Negotiable,
				Arranged:          p.Value.Arranged,
			}
			continue
		}
		label := p.Value.Label
		if label == "" {
			label = p.Name
		}
		l.Params = append(l.Params, model.Param{Key: p.Key, Name: p.Name, Type: p.Type, Label: label})
	}
	return l, nil
}

type rawUser struct {
	ID          int64  `json:"id"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
	About       string `json:"about"`
	SellerType  string `json:"seller_type"`
	Created     string `json:"created"`
	LastSeen    string `json:"last_seen"`
}

// User maps the publishing account of a listing.
func User(raw json.RawMessage) (*model.User, error) {
	var r rawUser
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, itemErr("user", "decode: %v", err)
	}
	if r.ID <= 0 || r.Name == "" {
		return nil, itemErr("user", "missing id or name")
	}
	id, err := uuid.FromString(r.UUID)
	if err != nil {
		return nil, itemErr("user", "user %d: bad uuid %q", r.ID, r.UUID)
	}
	u := &model.User{
		ID:          r.ID,
		UUID:        id,
		Name:        r.Name,
		CompanyName: r.CompanyName,
		About:       r.About,
		SellerType:  r.SellerType,
	}
	if r.Created != "" {
		t, err := parseTime("user", r.Created)
		if err != nil {
			return nil, err
		}
		u.Created = &t
	}
	if r.LastSeen != "" {
		t, err := parseTime("user", r.LastSeen)
		if err != nil {
			return nil, err
		}
		u.LastSeen = &t
	}
	return u, nil
}

type rawCategory struct {
	ID       int32   `json:"category_id"`
	Parent   *int32  `json:"parent"`
	Name     string  `json:"name"`
	Code     string  `json:"code"`
	Type     *string `json:"type"`
	ViewType string  `json:"view_type"`
	Position int32   `json:"position"`
}

// Category maps one node of the category tree. A zero parent means root.
func Category(raw json.RawMessage) (*model.Category, error) {
	var r rawCategory
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, itemErr("category", "decode: %v", err)
	}
	if r.ID <= 0 || r.Name == "" || r.Code == "" {
		return nil, itemErr("category", "missing id, name or code")
	}
	c := &model.Category{
		ID:       r.ID,
		Name:     r.Name,
		Code:     r.Code,
		Type:     "other",
		ViewType: r.ViewType,
		Position: r.Position,
	}
	if r.Type != nil && *r.Type != "" {
		c.Type = *r.Type
	}
	if r.Parent != nil && *r.Parent > 0 {
		c.ParentID = r.Parent
	}
	return c, nil
}

// Phone maps one limited-phones item (a bare JSON string).
func Phone(raw json.RawMessage) (model.Phone, error) {
	var number string
	if err := json.Unmarshal(raw, &number); err != nil {
		return model.Phone{}, itemErr("phone", "decode: %v", err)
	}
	if number == "" {
		return model.Phone{}, itemErr("phone", "empty number")
	}
	return model.Phone{Number: number}, nil
}

func place(entity string, raw json.RawMessage) (*rawPlace, error) {
	var r rawPlace
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, itemErr(entity, "decode: %v", err)
	}
	if r.ID <= 0 || r.Name == "" {
		return nil, itemErr(entity, "missing id or name")
	}
	return &r, nil
}

func parseTime(entity, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, itemErr(entity, "bad timestamp %q", s)
	}
	return t, nil
}
