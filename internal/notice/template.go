package notice

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/copysentry/backend/internal/domain"
)

var subjectTemplate = template.Must(template.New("subject").Parse(
	`Copyright Takedown Request{{if .ContentRef}} - {{.ContentRef}}{{end}}`,
))

var bodyTemplate = template.Must(template.New("body").Parse(`To whom it may concern{{if .Platform}} at {{.Platform}}{{end}},

I am writing on behalf of {{if .OwnerName}}{{.OwnerName}}{{else}}[OWNER NAME]{{end}}, the copyright owner of the work identified below, to request removal of infringing material hosted on your platform.

Original work: {{if .ContentRef}}{{.ContentRef}}{{else}}[CONTENT IDENTIFICATION]{{end}}
Infringing material: {{if .InfringingURL}}{{.InfringingURL}}{{else}}[INFRINGING URL]{{end}}

I have a good faith belief that the use of the material described above is not authorized by the copyright owner, its agent, or the law. The information in this notice is accurate, and I am authorized to act on behalf of the owner of the exclusive right that is allegedly infringed.

Please remove or disable access to the material identified above.

Contact: {{if .OwnerContact}}{{.OwnerContact}}{{else}}[OWNER CONTACT]{{end}}

Regards,
{{if .OwnerName}}{{.OwnerName}}{{else}}[OWNER NAME]{{end}}`))

// Render fills the notice templates from the notice's fields. Placeholders
// remain for missing fields so a Draft is reviewable before completion.
func Render(n *domain.TakedownNotice) (subject, body string, err error) {
	var subjectBuf, bodyBuf bytes.Buffer
	if err := subjectTemplate.Execute(&subjectBuf, n); err != nil {
		return "", "", err
	}
	if err := bodyTemplate.Execute(&bodyBuf, n); err != nil {
		return "", "", err
	}
	return subjectBuf.String(), bodyBuf.String(), nil
}

// platform abuse contacts for the channels we currently enforce against.
var platformRecipients = map[string]string{
	"instagram": "ip@instagram.com",
	"facebook":  "ip@fb.com",
	"pinterest": "copyright@pinterest.com",
	"etsy":      "legal@etsy.com",
	"ebay":      "vero@ebay.com",
	"twitter":   "copyright@twitter.com",
	"tiktok":    "copyright@tiktok.com",
}

// RecipientFor resolves a platform tag to its abuse contact, or empty when
// unknown so the field surfaces as missing on the draft.
func RecipientFor(platform string) string {
	return platformRecipients[strings.ToLower(platform)]
}
