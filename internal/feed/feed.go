// SPDX-License-Identifier: MIT

// Package feed polls a release feed and announces unseen items to the
// configured channels, oldest first, with publish history kept in the
// dedup store.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Item is one feed entry.
type Item struct {
	ID    string
	Title string
	Link  string
	Image string
}

// Fetcher retrieves the current feed contents, newest first (the usual
// feed ordering).
type Fetcher interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// HTTPFetcher pulls an RSS 2.0 document over HTTP.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher builds a fetcher for the feed at url.
func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// rss models the subset of RSS 2.0 the watcher consumes.
type rss struct {
	Channel struct {
		Items []struct {
			Title     string `xml:"title"`
			Link      string `xml:"link"`
			GUID      string `xml:"guid"`
			Enclosure struct {
				URL  string `xml:"url,attr"`
				Type string `xml:"type,attr"`
			} `xml:"enclosure"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	var doc rss
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	items := make([]Item, 0, len(doc.Channel.Items))
	for _, raw := range doc.Channel.Items {
		id := strings.TrimSpace(raw.GUID)
		if id == "" {
			id = strings.TrimSpace(raw.Link)
		}
		if id == "" {
			continue
		}
		item := Item{
			ID:    id,
			Title: strings.TrimSpace(raw.Title),
			Link:  strings.TrimSpace(raw.Link),
		}
		if strings.HasPrefix(raw.Enclosure.Type, "image/") {
			item.Image = raw.Enclosure.URL
		}
		items = append(items, item)
	}
	return items, nil
}
