package search

import (
	"testing"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/config"
)

func TestPlatformFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.etsy.com/listing/123", "etsy"},
		{"https://shop.etsy.com/x", "etsy"},
		{"https://pinterest.com/pin/9", "pinterest"},
		{"https://notetsy.com/x", "web"},
		{"https://example.org/image.png", "web"},
		{"::not a url::", "web"},
	}
	for _, tt := range tests {
		if got := PlatformFromURL(tt.url); got != tt.want {
			t.Errorf("PlatformFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBuildQueryScopesPlatform(t *testing.T) {
	p := NewProvider(config.SearchConfig{})
	content := &domain.ProtectedContent{Title: "Sunset Over Harbor", Description: "oil painting"}

	got := p.buildQuery(content, "etsy")
	want := "site:etsy.com Sunset Over Harbor oil painting"
	if got != want {
		t.Errorf("buildQuery() = %q, want %q", got, want)
	}
}
