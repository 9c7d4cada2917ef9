package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 1100px; margin: 2rem auto; padding: 0 1rem; color: #222; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; }
th { background: #f4f4f4; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Markdown renders grids as a markdown document with one section per grid.
func Markdown(title string, ds ...Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, d := range ds {
		if d.Title != "" {
			fmt.Fprintf(&b, "\n## %s\n", d.Title)
		}
		b.WriteString("\n")
		writeMarkdownRow(&b, d.Headers)
		sep := make([]string, len(d.Headers))
		for i := range sep {
			sep[i] = "---"
			if i < len(d.Numeric) && d.Numeric[i] {
				sep[i] = "---:"
			}
		}
		writeMarkdownRow(&b, sep)
		for _, row := range d.Rows {
			writeMarkdownRow(&b, row)
		}
	}
	return b.String()
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		c = strings.ReplaceAll(c, "|", `\|`)
		c = strings.ReplaceAll(c, "\n", " ")
		b.WriteString(" " + c + " |")
	}
	b.WriteString("\n")
}

// RenderHTML converts a markdown document into a standalone HTML page.
func RenderHTML(w io.Writer, title, markdown string) error {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	return page.Execute(w, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(body.String())})
}
