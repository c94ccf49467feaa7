package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageMetaSelectors are tried in order when looking for a page's photo.
var imageMetaSelectors = []string{
	`meta[property="og:image"]`,
	`meta[property="og:image:secure_url"]`,
	`meta[name="twitter:image"]`,
}

// ResolveImageURL fetches a profile page and returns the absolute URL of its preview photo.
func (f *Fetcher) ResolveImageURL(ctx context.Context, pageURL string) (string, error) {
	body, err := f.get(ctx, pageURL, acceptHTML, "resolve_photo_url")
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}

	imageURL, err := parseImageURL(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", err
	}

	f.logger.Info("Photo URL resolved from page", "page_url", pageURL, "photo_url", imageURL)
	return imageURL, nil
}

func parseImageURL(body io.Reader, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var content string
	for _, sel := range imageMetaSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			content = strings.TrimSpace(v)
			break
		}
	}
	if content == "" {
		return "", fmt.Errorf("no og:image found on %s", pageURL)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(content)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
