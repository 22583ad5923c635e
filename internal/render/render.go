package render

import (
	"regexp"
	"strings"

	"outreach/internal/domain"
)

var placeholder = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Renderer substitutes {key} placeholders. With HTMLFormatting set it also keeps line
// breaks and double spaces visible in HTML mail.
type Renderer struct {
	HTMLFormatting bool
}

// Render replaces every {key} that has an entry in fields. A nil value renders as "".
// Placeholders without an entry are left as they are.
func (r Renderer) Render(template string, fields map[string]*string) string {
	out := substitute(template, fields)
	if r.HTMLFormatting {
		out = FormatHTML(out)
	}
	return out
}

// RenderSubject substitutes like Render but never adds markup. Line breaks become single
// spaces so the result is a valid one-line header.
func (r Renderer) RenderSubject(template string, fields map[string]*string) string {
	return subjectBreaks.Replace(substitute(template, fields))
}

var subjectBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func substitute(template string, fields map[string]*string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		v, ok := fields[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if v == nil {
			return ""
		}
		return *v
	})
}

func FormatHTML(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "<br>")
	return strings.ReplaceAll(s, "  ", "&nbsp;&nbsp;")
}

// LeadFields is the placeholder set for a lead: custom fields plus id, email and name,
// which always win over custom keys of the same name.
func LeadFields(l domain.Lead) map[string]*string {
	out := make(map[string]*string, len(l.Fields)+3)
	for k, v := range l.Fields {
		out[k] = v
	}
	out["id"] = str(l.ID)
	out["email"] = str(l.Email)
	out["name"] = str(l.Name)
	return out
}

func str(s string) *string { return &s }
