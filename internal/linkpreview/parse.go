package linkpreview

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// parse reads the document head. Open Graph tags win over <title> and the
// plain description meta tag.
func parse(r io.Reader, base *url.URL) Preview {
	var (
		title, desc          string
		ogTitle, ogDesc, img string
		inTitle              bool
	)

	z := html.NewTokenizer(r)
loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "title":
				inTitle = tt == html.StartTagToken
			case "body":
				break loop
			case "meta":
				var key, content string
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					switch string(k) {
					case "property", "name":
						if key == "" {
							key = strings.ToLower(string(v))
						}
					case "content":
						content = strings.TrimSpace(string(v))
					}
				}
				switch key {
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDesc = content
				case "description":
					desc = content
				case "og:image":
					img = content
				}
			}
		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "head":
				break loop
			}
		}
	}

	p := Preview{Title: title, Description: desc}
	if ogTitle != "" {
		p.Title = ogTitle
	}
	if ogDesc != "" {
		p.Description = ogDesc
	}
	if img != "" {
		if ref, err := base.Parse(img); err == nil {
			p.Image = ref.String()
		} else {
			p.Image = img
		}
	}
	return p
}
