package listing_test

import (
	"errors"
	"testing"

	"github.com/apimarket/metergate/domain/listing"
)

func validListing() listing.Listing {
	return listing.Listing{
		ID:         "weather",
		Name:       "Weather API",
		Version:    "v2",
		Status:     listing.StatusActive,
		RateCap:    100,
		CreditCost: 2,
		Endpoint:   listing.EndpointSpec{Method: "GET", Path: "/v2/current"},
	}
}

func TestListing_Validate(t *testing.T) {
	if err := validListing().Validate(); err != nil {
		t.Fatalf("valid listing rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*listing.Listing)
		wantErr error
	}{
		{"unknown status", func(l *listing.Listing) { l.Status = "retired" }, listing.ErrBadStatus},
		{"zero rate cap", func(l *listing.Listing) { l.RateCap = 0 }, listing.ErrBadRateCap},
		{"negative rate cap", func(l *listing.Listing) { l.RateCap = -5 }, listing.ErrBadRateCap},
		{"zero credit cost", func(l *listing.Listing) { l.CreditCost = 0 }, listing.ErrBadCreditCost},
		{"bad endpoint", func(l *listing.Listing) { l.Endpoint.Method = "FETCH" }, listing.ErrBadEndpointSpec},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := validListing()
			tc.mutate(&l)
			if err := l.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("missing id", func(t *testing.T) {
		l := validListing()
		l.ID = ""
		if err := l.Validate(); err == nil {
			t.Error("listing without id accepted")
		}
	})
}

func TestListing_Invocable(t *testing.T) {
	cases := map[listing.Status]bool{
		listing.StatusActive:      true,
		listing.StatusBeta:        false,
		listing.StatusDeprecated:  false,
		listing.StatusMaintenance: false,
	}
	for status, want := range cases {
		l := validListing()
		l.Status = status
		if got := l.Invocable(); got != want {
			t.Errorf("%s invocable = %v, want %v", status, got, want)
		}
	}
}

func TestParseEndpointSpec(t *testing.T) {
	raw := []byte(`{
		"method": "POST",
		"path": "/v1/geocode",
		"params": [
			{"name": "address", "type": "string", "in": "body", "required": true},
			{"name": "limit", "type": "integer", "in": "query", "required": false}
		],
		"example": "{\"address\": \"1 Main St\"}"
	}`)

	spec, err := listing.ParseEndpointSpec(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if spec.Method != "POST" || spec.Path != "/v1/geocode" {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.Params) != 2 || spec.Params[0].Name != "address" {
		t.Errorf("params = %+v", spec.Params)
	}
}

func TestParseEndpointSpec_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"bad method", `{"method": "FETCH", "path": "/x"}`},
		{"missing path", `{"method": "GET"}`},
		{"relative path", `{"method": "GET", "path": "x"}`},
		{"unnamed param", `{"method": "GET", "path": "/x", "params": [{"type": "string", "in": "query"}]}`},
		{"duplicate param", `{"method": "GET", "path": "/x", "params": [
			{"name": "a", "type": "string", "in": "query"},
			{"name": "a", "type": "string", "in": "query"}]}`},
		{"unknown type", `{"method": "GET", "path": "/x", "params": [{"name": "a", "type": "float", "in": "query"}]}`},
		{"unknown location", `{"method": "GET", "path": "/x", "params": [{"name": "a", "type": "string", "in": "form"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := listing.ParseEndpointSpec([]byte(tc.raw)); !errors.Is(err, listing.ErrBadEndpointSpec) {
				t.Errorf("err = %v, want ErrBadEndpointSpec", err)
			}
		})
	}
}

func TestEndpointSpec_RoundTrip(t *testing.T) {
	spec := listing.EndpointSpec{
		Method: "GET",
		Path:   "/v2/current",
		Params: []listing.Param{{Name: "city", Type: listing.TypeString, In: listing.InQuery, Required: true}},
	}
	raw, err := spec.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := listing.ParseEndpointSpec(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Method != spec.Method || got.Path != spec.Path || len(got.Params) != 1 {
		t.Errorf("round trip = %+v", got)
	}
}
