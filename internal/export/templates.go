package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/gosimple/slug"
)

//go:embed templates/*.html
var templateFS embed.FS

var caseStudyTemplate = template.Must(
	template.New("case_study.html").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "templates/case_study.html"),
)

// TemplateData holds data for case-study rendering
type TemplateData struct {
	SiteName    string
	SiteURL     string
	Title       string
	Category    string
	Brief       string
	Description string
	Before      []string
	After       []string
	UpdatedAt   time.Time
	GeneratedAt time.Time
}

func RenderCaseStudyHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := caseStudyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// filename derives an ASCII download name from the item title.
func filename(title, ext string) string {
	name := slug.Make(title)
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "case-study"
	}
	return name + "." + ext
}
