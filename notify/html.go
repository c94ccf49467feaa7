package notify

import (
	"fmt"
	"strings"
	"time"

	"photowatch/pkg/photowatch"
)

// changeHTML renders the email variant of a change alert. The photo is only
// inlined when its URL is absolute http(s).
func changeHTML(o *photowatch.Observation, loc *time.Location, fp string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".photo img { max-width: 100%; height: auto; border-radius: 8px; display: block; margin: 15px 0; }\n")
	b.WriteString(".meta { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".meta code { font-size: 1em; }\n")
	b.WriteString("a { color: #e67e22; text-decoration: none; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".meta { color: #a0a0a0; }\n")
	b.WriteString("a { color: #ff8c42; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<h2>The watched profile photo changed</h2>\n")
	if isSafeURL(o.SourceURL) {
		fmt.Fprintf(&b, "<div class=\"photo\"><a href=\"%[1]s\"><img src=\"%[1]s\" alt=\"New profile photo\"></a></div>\n", escapeHTML(o.SourceURL))
	}

	b.WriteString("<div class=\"meta\">\n")
	fmt.Fprintf(&b, "<div>Detected %s (%s)</div>\n", escapeHTML(o.ObservedAt.In(loc).Format("02 Jan 06 15:04")), escapeHTML(loc.String()))
	fmt.Fprintf(&b, "<div>Fingerprint <code>%s</code></div>\n", escapeHTML(fp))
	if o.Location != nil {
		fmt.Fprintf(&b, "<div>Location %.6f, %.6f</div>\n", o.Location.Latitude, o.Location.Longitude)
	}
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")
	return b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// isSafeURL reports whether u may be embedded in an email. Only absolute
// http and https URLs qualify: javascript:, data: and relative paths do not.
func isSafeURL(u string) bool {
	u = strings.TrimSpace(strings.ToLower(u))
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
