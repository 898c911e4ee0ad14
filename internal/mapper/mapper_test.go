package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const validListing = `{
	"id": 811556205,
	"url": "https://www.olx.ua/d/obyavlenie/item-811556205.html",
	"title": "Дитячий велосипед 16",
	"description": "Стан добрий,<br />самовивіз",
	"business": true,
	"category": {"id": 1155},
	"partner": {"code": "b2c"},
	"promotion": {"highlighted": true, "top_ad": false},
	"contact": {"phone": true, "chat": true, "negotiation": true},
	"map": {"zoom": 13, "lat": 50.4501, "lon": 30.5234},
	"created_time": "2026-08-30T10:15:00+03:00",
	"last_refresh_time": "2026-08-30T11:20:00+03:00",
	"valid_to_time": "2026-09-29T10:15:00+03:00",
	"user": {
		"id": 7734, "uuid": "b2f64f2a-2a1c-4a6f-9f59-0d41a1c0a111",
		"name": "Олена", "company_name": "ВелоСвіт",
		"created": "2020-01-15T09:00:00+02:00"
	},
	"location": {
		"region": {"id": 11, "name": "Київська область"},
		"city": {"id": 1, "name": "Київ"},
		"district": {"id": 85, "name": "Оболонський"}
	},
	"photos": [{"id": 1, "filename": "bike.jpg", "width": 1080, "height": 720}],
	"params": [
		{"key": "price", "name": "Цена", "type": "price",
		 "value": {"value": 1500, "currency": "UAH", "converted_currency": "", "label": "1 500 грн.", "negotiable": true}},
		{"key": "state", "name": "Стан", "type": "select", "value": {"label": "Б/в"}},
		{"key": "delivery", "name": "Доставка OLX", "type": "checkbox", "value": {}}
	]
}`

func TestListing_OK(t *testing.T) {
	l, err := Listing(json.RawMessage(validListing))
	require.NoError(t, err)

	require.Equal(t, int64(811556205), l.ID)
	require.Equal(t, int32(1155), l.CategoryID)
	require.Equal(t, "b2c", l.PartnerCode)
	require.True(t, l.IsBusiness)
	require.True(t, l.IsHighlighted)
	require.True(t, l.HasNegotiation)

	require.Equal(t, int64(7734), l.UserID)
	require.Equal(t, "ВелоСвіт", l.User.CompanyName)
	require.NotNil(t, l.User.Created)
	require.Nil(t, l.User.LastSeen)

	require.Equal(t, int64(11), l.RegionID)
	require.NotNil(t, l.DistrictID)
	require.Equal(t, "Оболонський", l.District.Name)

	require.NotNil(t, l.Price)
	require.Equal(t, float64(1500), l.Price.Value)
	require.Equal(t, "UAH", l.Price.Currency)
	require.True(t, l.Price.Negotiable)

	// The price param becomes Price, not a regular param.
	require.Len(t, l.Params, 2)
	require.Equal(t, "Б/в", l.Params[0].Label)
	// A checkbox without a label falls back to the param name.
	require.Equal(t, "Доставка OLX", l.Params[1].Label)

	require.Len(t, l.Photos, 1)
	require.Equal(t, "bike.jpg", l.Photos[0].Filename)
}

func TestListing_NoDistrict(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 5, "url": "https://example.com/5", "title": "т",
		"category": {"id": 1},
		"created_time": "2026-08-30T10:00:00Z",
		"last_refresh_time": "2026-08-30T10:00:00Z",
		"valid_to_time": "2026-09-30T10:00:00Z",
		"user": {"id": 1, "uuid": "b2f64f2a-2a1c-4a6f-9f59-0d41a1c0a111", "name": "n"},
		"location": {"region": {"id": 1, "name": "r"}, "city": {"id": 2, "name": "c"}, "district": null}
	}`)
	l, err := Listing(raw)
	require.NoError(t, err)
	require.Nil(t, l.DistrictID)
	require.Nil(t, l.Price)
}

func TestListing_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing id", `{"title": "t", "url": "u"}`},
		{"missing title", `{"id": 1, "url": "u", "category": {"id": 1}}`},
		{"missing category", `{"id": 1, "url": "u", "title": "t"}`},
		{"bad timestamp", `{
			"id": 1, "url": "u", "title": "t", "category": {"id": 1},
			"created_time": "yesterday"
		}`},
		{"bad user uuid", `{
			"id": 1, "url": "u", "title": "t", "category": {"id": 1},
			"created_time": "2026-08-30T10:00:00Z",
			"last_refresh_time": "2026-08-30T10:00:00Z",
			"valid_to_time": "2026-09-30T10:00:00Z",
			"user": {"id": 1, "uuid": "nope", "name": "n"},
			"location": {"region": {"id": 1, "name": "r"}, "city": {"id": 2, "name": "c"}}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Listing(json.RawMessage(tt.raw))
			var ie *ItemError
			require.ErrorAs(t, err, &ie)
		})
	}
}

func TestCategory(t *testing.T) {
	c, err := Category(json.RawMessage(`{
		"category_id": 1155, "parent": 1121, "name": "Велосипеди", "code": "velosipedy",
		"type": "goods", "view_type": "grid", "position": 3
	}`))
	require.NoError(t, err)
	require.NotNil(t, c.ParentID)
	require.Equal(t, int32(1121), *c.ParentID)
	require.Equal(t, "goods", c.Type)
}

func TestCategory_RootAndDefaultType(t *testing.T) {
	c, err := Category(json.RawMessage(`{
		"category_id": 1, "parent": 0, "name": "Допомога", "code": "pomosch", "type": null
	}`))
	require.NoError(t, err)
	require.Nil(t, c.ParentID)
	require.Equal(t, "other", c.Type)
}

func TestCategory_Malformed(t *testing.T) {
	_, err := Category(json.RawMessage(`{"category_id": 1, "name": "x"}`))
	var ie *ItemError
	require.ErrorAs(t, err, &ie)
}

func TestPhone(t *testing.T) {
	p, err := Phone(json.RawMessage(`"380671234567"`))
	require.NoError(t, err)
	require.Equal(t, "380671234567", p.Number)

	_, err = Phone(json.RawMessage(`""`))
	var ie *ItemError
	require.ErrorAs(t, err, &ie)
}
