package browsersearch

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default result page hosts.
const (
	GoogleBaseURL = "https://www.google.com"
)

// Recipe names.
const (
	GoogleImagesName   = "google-images"
	GoogleShoppingName = "google-shopping"
)

// Google Images embeds full-size results as ["<url>",<height>,<width>] tuples
// in inline script data.
var googleImageTuple = regexp.MustCompile(`\["(https?://[^"]+?)",(\d+),(\d+)\]`)

// Shopping result cards carry merchant images on lazily loaded <img> tags.
var shoppingImageAttrs = []string{"src", "data-src", "data-image-src", "srcset"}

var imageExt = regexp.MustCompile(`(?i)\.(?:jpe?g|png|webp)(?:$|[?#])`)

// GoogleImages returns the recipe for the Google Images results page.
func GoogleImages() Recipe {
	return Recipe{
		Name: GoogleImagesName,
		SearchURL: func(base, query string) string {
			return withQuery(orDefault(base), "/search", url.Values{"q": {query}, "tbm": {"isch"}, "hl": {"en"}})
		},
		Extract: extractGoogleImages,
	}
}

// GoogleShopping returns the recipe for the Google Shopping results page.
func GoogleShopping() Recipe {
	return Recipe{
		Name: GoogleShoppingName,
		SearchURL: func(base, query string) string {
			return withQuery(orDefault(base), "/search", url.Values{"q": {query}, "tbm": {"shop"}, "hl": {"en"}})
		},
		Extract: extractShoppingImages,
	}
}

func orDefault(base string) string {
	if base == "" {
		return GoogleBaseURL
	}
	return strings.TrimRight(base, "/")
}

func extractGoogleImages(html string) []string {
	var out []string
	for _, m := range googleImageTuple.FindAllStringSubmatch(html, -1) {
		u := unescape(m[1])
		if !imageExt.MatchString(u) || isGoogleHosted(u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func extractShoppingImages(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range shoppingImageAttrs {
			raw, ok := img.Attr(attr)
			if !ok {
				continue
			}
			if attr == "srcset" {
				raw = firstSrcsetURL(raw)
			}
			u := unescape(strings.TrimSpace(raw))
			if !isMerchantImage(u) {
				continue
			}
			out = append(out, u)
			return
		}
	})
	return out
}

// firstSrcsetURL returns the URL of the first "<url> <descriptor>" entry.
func firstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isMerchantImage(u string) bool {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	return imageExt.MatchString(u) && !isGoogleHosted(u)
}

// unescape decodes the \u003d style escapes Google uses inside script data.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func isGoogleHosted(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return true
	}
	host := parsed.Hostname()
	return strings.HasSuffix(host, "gstatic.com") ||
		strings.HasSuffix(host, "google.com") ||
		strings.HasSuffix(host, "googleusercontent.com")
}
