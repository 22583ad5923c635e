package render

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"outreach/internal/domain"
)

func strp(s string) *string { return &s }

func TestRenderNullBecomesEmpty(t *testing.T) {
	got := Renderer{}.Render("Hi {name}, from {city}", map[string]*string{
		"name": strp("Ana"),
		"city": nil,
	})
	assert.Equal(t, "Hi Ana, from ", got)
}

func TestRenderUnknownPlaceholderVerbatim(t *testing.T) {
	got := Renderer{}.Render("Hi {name}, your code is {code}", map[string]*string{"name": strp("Bo")})
	assert.Equal(t, "Hi Bo, your code is {code}", got)
}

func TestRenderRepeatedAndAdjacent(t *testing.T) {
	got := Renderer{}.Render("{a}{b}{a}", map[string]*string{"a": strp("1"), "b": strp("2")})
	assert.Equal(t, "121", got)
}

func TestRenderDoesNotRecurseIntoValues(t *testing.T) {
	got := Renderer{}.Render("{a}", map[string]*string{"a": strp("{b}"), "b": strp("x")})
	assert.Equal(t, "{b}", got)
}

func TestRenderHTMLFormatting(t *testing.T) {
	r := Renderer{HTMLFormatting: true}
	got := r.Render("Hi {name},\n\nSee  you", map[string]*string{"name": strp("Ana")})
	assert.Equal(t, "Hi Ana,<br><br>See&nbsp;&nbsp;you", got)
}

func TestLeadFields(t *testing.T) {
	l := domain.Lead{
		ID: "lead_1", Email: "ana@example.com", Name: "Ana",
		Fields: map[string]*string{"company": strp("Acme"), "name": strp("ignored"), "city": nil},
	}
	got := Renderer{}.Render("{name} at {company} ({email}) {city}.", LeadFields(l))
	assert.Equal(t, "Ana at Acme (ana@example.com) .", got)
}

func TestRenderSubjectHasNoMarkup(t *testing.T) {
	r := Renderer{HTMLFormatting: true}
	got := r.RenderSubject("Hi  {name}\nnews\r\nto {name}", map[string]*string{"name": strp("Ana")})
	assert.Equal(t, "Hi  Ana news to Ana", got)
	assert.NotContains(t, got, "&nbsp;")
	assert.NotContains(t, got, "<br>")
}
