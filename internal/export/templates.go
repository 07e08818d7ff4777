package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/post.html
var templateFS embed.FS

var postTemplate = template.Must(template.New("post.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/post.html"))

// TemplateData holds data for post template rendering
type TemplateData struct {
	Title       string
	Status      string
	ContentHTML template.HTML
	UpdatedAt   time.Time
	Revision    string
}

// RenderPostHTML renders the standalone page for a post.
func RenderPostHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := postTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
