// Package render produces the published Markdown artifact from a day's
// rank-ordered completed articles.
package render

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

const digestTemplate = `---
layout: daily-digest
title: "Daily Digest — {{ .Date }}"
date: {{ .Date }}
---
{{ range .Articles }}
## {{ .Rank }}. {{ .TitleZh }}

- titleEn: {{ .TitleEn }}
- publishedTime: {{ .PublishedTime }}
- url: {{ .URL }}
{{ if .ContentSummaryZh }}
{{ .ContentSummaryZh }}
{{ end -}}
{{ if .CommentSummaryZh }}
> {{ .CommentSummaryZh }}
{{ end }}
{{ end -}}
`

// MarkdownRenderer implements collaborators.Renderer, producing a document
// with YAML front matter followed by rank-ordered article blocks.
type MarkdownRenderer struct {
	tmpl *template.Template
}

// New creates a MarkdownRenderer. The digest template is parsed once and
// reused across Render calls.
func New() *MarkdownRenderer {
	return &MarkdownRenderer{tmpl: template.Must(template.New("digest").Parse(digestTemplate))}
}

var _ collaborators.Renderer = (*MarkdownRenderer)(nil)

type templateArticle struct {
	Rank             int
	TitleZh          string
	TitleEn          string
	PublishedTime    string
	URL              string
	ContentSummaryZh string
	CommentSummaryZh string
}

type templateData struct {
	Date     string
	Articles []templateArticle
}

// Render produces the Markdown digest artifact for digestDate. articles
// must already be in rank order; Render does not re-sort them.
func (r *MarkdownRenderer) Render(digestDate time.Time, articles []collaborators.RenderedArticle) ([]byte, error) {
	data := templateData{
		Date:     digestDate.Format("2006-01-02"),
		Articles: make([]templateArticle, len(articles)),
	}
	for i, a := range articles {
		data.Articles[i] = templateArticle{
			Rank:             a.Rank,
			TitleZh:          a.TitleZh,
			TitleEn:          a.TitleEn,
			PublishedTime:    a.PublishedTime.UTC().Format("2006-01-02 15:04:05 UTC"),
			URL:              a.URL,
			ContentSummaryZh: a.ContentSummaryZh,
			CommentSummaryZh: a.CommentSummaryZh,
		}
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render: execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename returns the YYYY-MM-DD-daily.md filename for digestDate.
func Filename(digestDate time.Time) string {
	return digestDate.Format("2006-01-02") + "-daily.md"
}
