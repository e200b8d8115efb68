package notice

import (
	"strings"
	"testing"

	"github.com/copysentry/backend/internal/domain"
)

func TestRenderCompleteNotice(t *testing.T) {
	n := &domain.TakedownNotice{
		Platform:      "etsy",
		OwnerName:     "Jane Artist",
		OwnerContact:  "jane@example.com",
		InfringingURL: "https://etsy.com/listing/123",
		ContentRef:    "Sunset Over Harbor",
	}

	subject, body, err := Render(n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if !strings.Contains(subject, "Sunset Over Harbor") {
		t.Errorf("subject = %q, want content reference included", subject)
	}
	for _, want := range []string{"Jane Artist", "jane@example.com", "https://etsy.com/listing/123", "etsy"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "[") {
		t.Errorf("complete notice still contains placeholders:\n%s", body)
	}
}

func TestRenderLeavesPlaceholdersForMissingFields(t *testing.T) {
	n := &domain.TakedownNotice{
		Platform:      "etsy",
		InfringingURL: "https://etsy.com/listing/123",
	}

	_, body, err := Render(n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, placeholder := range []string{"[OWNER NAME]", "[OWNER CONTACT]", "[CONTENT IDENTIFICATION]"} {
		if !strings.Contains(body, placeholder) {
			t.Errorf("body missing placeholder %q", placeholder)
		}
	}
}

func TestRecipientFor(t *testing.T) {
	if got := RecipientFor("Etsy"); got != "legal@etsy.com" {
		t.Errorf("RecipientFor(Etsy) = %q, want legal@etsy.com", got)
	}
	if got := RecipientFor("unknown-site"); got != "" {
		t.Errorf("RecipientFor(unknown-site) = %q, want empty", got)
	}
}
