package reqctx

import (
	"context"
	"testing"

	"golang.org/x/text/language"
	"gorm.io/gorm"
)

func TestBaseURI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://host/svc.svc", "http://host/svc.svc/"},
		{"http://host/svc.svc/", "http://host/svc.svc/"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BaseURI(WithBaseURI(context.Background(), tt.in)); got != tt.want {
			t.Errorf("BaseURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := BaseURI(context.Background()); got != "" {
		t.Errorf("BaseURI() without value = %q", got)
	}
}

func TestLocale(t *testing.T) {
	if got := Locale(context.Background()); got != language.English {
		t.Errorf("default locale = %v", got)
	}
	ctx := WithLocale(context.Background(), language.German)
	if got := Locale(ctx); got != language.German {
		t.Errorf("Locale() = %v, want de", got)
	}
}

func TestParseLocale(t *testing.T) {
	tests := []struct {
		in   string
		want language.Tag
	}{
		{"", language.English},
		{"de-DE,de;q=0.9,en;q=0.8", language.MustParse("de-DE")},
		{"fr", language.French},
	}
	for _, tt := range tests {
		if got := ParseLocale(tt.in); got != tt.want {
			t.Errorf("ParseLocale(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSession(t *testing.T) {
	if _, ok := Session(context.Background()); ok {
		t.Error("Session() without value reported ok")
	}
	db := &gorm.DB{}
	got, ok := Session(WithSession(context.Background(), db))
	if !ok || got != db {
		t.Errorf("Session() = %v, %v", got, ok)
	}
	if _, ok := Session(WithSession(context.Background(), nil)); ok {
		t.Error("nil session reported ok")
	}
}
