package models

import (
	"testing"
)

func TestEntityRefString(t *testing.T) {
	if got := RealmEntity(1403).String(); got != "1403" {
		t.Errorf("RealmEntity(1403).String() = %q, want %q", got, "1403")
	}
	if got := CommoditiesEntity("kr").String(); got != "commodities_kr" {
		t.Errorf("CommoditiesEntity(kr).String() = %q, want %q", got, "commodities_kr")
	}
}

func TestParseEntity(t *testing.T) {
	tests := []struct {
		in      string
		want    EntityRef
		wantErr bool
	}{
		{"1403", RealmEntity(1403), false},
		{"205", RealmEntity(205), false},
		{"commodities_kr", CommoditiesEntity("kr"), false},
		{"commodities_eu", CommoditiesEntity("eu"), false},
		{"commodities_", EntityRef{}, true},
		{"azshara", EntityRef{}, true},
		{"", EntityRef{}, true},
	}

	for _, tt := range tests {
		got, err := ParseEntity(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEntity(%q) expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEntity(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEntity(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseEntityRoundTrip(t *testing.T) {
	for _, e := range []EntityRef{RealmEntity(1), RealmEntity(9999), CommoditiesEntity("us")} {
		parsed, err := ParseEntity(e.String())
		if err != nil {
			t.Fatalf("ParseEntity(%q): %v", e.String(), err)
		}
		if parsed != e {
			t.Errorf("round trip of %+v produced %+v", e, parsed)
		}
	}
}

func TestItemMetadataComplete(t *testing.T) {
	tests := []struct {
		name string
		meta ItemMetadata
		want bool
	}{
		{"name and icon", ItemMetadata{Name: "Sword", IconURL: "https://x/icon.jpg"}, true},
		{"missing icon", ItemMetadata{Name: "Sword"}, false},
		{"missing name", ItemMetadata{IconURL: "https://x/icon.jpg"}, false},
		{"empty", ItemMetadata{}, false},
		{"no-metadata marker", ItemMetadata{NoMetadata: true}, true},
	}
	for _, tt := range tests {
		if got := tt.meta.Complete(); got != tt.want {
			t.Errorf("%s: Complete() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
