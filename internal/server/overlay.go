package server

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/conneroisu/stagehand/internal/build"
)

// ErrorOverlay renders a full page describing a failed compile. The page
// loads the reload client so it disappears once the next compile succeeds.
func ErrorOverlay(stats build.Stats) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := fmt.Sprintf("%s compile failed", stats.Target.DisplayName())

		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title><style>`+overlayCSS+`</style></head><body><main class="overlay"><h1>`+
			templ.EscapeString(title)+`</h1>`); err != nil {
			return err
		}

		if len(stats.Diagnostics) > 0 {
			if _, err := io.WriteString(w, `<ul class="diagnostics">`); err != nil {
				return err
			}
			for _, d := range stats.Diagnostics {
				if _, err := fmt.Fprintf(w, `<li><span class="location">%s</span> %s</li>`,
					templ.EscapeString(fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)),
					templ.EscapeString(d.Message)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul>`); err != nil {
				return err
			}
		}

		detail := stats.Output
		if detail == "" && stats.Err != nil {
			detail = stats.Err.Error()
		}
		_, err := io.WriteString(w, `<pre class="output">`+templ.EscapeString(detail)+`</pre></main>`+
			`<script src="`+ReloadScriptPath+`" defer></script></body></html>`)
		return err
	})
}

const overlayCSS = `body{margin:0;background:#1e1e1e;color:#eee;font-family:ui-monospace,monospace}` +
	`.overlay{padding:2rem}h1{color:#ff6b6b;font-size:1.25rem}` +
	`.diagnostics{list-style:none;padding:0}.location{color:#ffd866}` +
	`.output{white-space:pre-wrap;background:#111;padding:1rem;border-radius:4px}`
