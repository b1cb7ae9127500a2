package digest

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// HTMLFormatter renders a digest as a self-contained HTML email body.
type HTMLFormatter struct {
	// Now anchors relative timestamps. Zero means time.Now at format time.
	Now time.Time
}

// NewHTML creates an HTML formatter.
func NewHTML() *HTMLFormatter {
	return &HTMLFormatter{}
}

const htmlBody = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, Segoe UI, Helvetica, Arial, sans-serif; max-width: 680px; margin: 0 auto; color: #1a1a1a;">
<h1 style="font-size: 20px;">Community Digest — {{.IntervalID}}</h1>
<p style="color: #555;">{{len .Entries}} new items across {{.Sources}} sources</p>
{{if .Empty}}<p>No new activity since the last digest.</p>{{end}}
{{range .Groups}}
<h2 style="font-size: 16px; border-bottom: 1px solid #ddd; padding-bottom: 4px;">{{.Name}}</h2>
{{range .Entries}}
<div style="margin-bottom: 12px;">
  <strong>{{if .Item.URL}}<a href="{{.Item.URL}}">{{.Item.Title}}</a>{{else}}{{.Item.Title}}{{end}}</strong>
  <span style="color: #888; font-size: 12px;">{{.Age}}</span>
  {{if .Summary}}<ul style="margin: 4px 0;">{{range .Summary}}<li>{{.}}</li>{{end}}</ul>{{else if .Item.Body}}<p style="margin: 4px 0; color: #333;">{{.Item.Body}}</p>{{end}}
</div>
{{end}}
{{end}}
{{if .Failures}}
<h2 style="font-size: 14px; color: #a33;">Sources that could not be checked this run</h2>
<ul>{{range .Failures}}<li><strong>{{.SourceID}}</strong>: {{.Reason}}</li>{{end}}</ul>
{{end}}
</body>
</html>
`

var htmlTmpl = template.Must(template.New("digest").Parse(htmlBody))

type htmlEntry struct {
	Entry
	Age string
}

type htmlGroup struct {
	SourceID string
	Name     string
	Entries  []htmlEntry
}

type htmlData struct {
	Payload
	Groups []htmlGroup
}

// Format writes the digest as HTML to w.
func (f *HTMLFormatter) Format(w io.Writer, p Payload) error {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	data := htmlData{Payload: p}
	for _, e := range p.Entries {
		he := htmlEntry{Entry: e, Age: humanize.RelTime(e.Item.Timestamp, now, "ago", "from now")}
		n := len(data.Groups)
		if n == 0 || data.Groups[n-1].SourceID != e.Item.SourceID {
			data.Groups = append(data.Groups, htmlGroup{
				SourceID: e.Item.SourceID,
				Name:     p.DisplayName(e.Item.SourceID),
			})
			n++
		}
		data.Groups[n-1].Entries = append(data.Groups[n-1].Entries, he)
	}

	if err := htmlTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render html digest: %w", err)
	}
	return nil
}
