package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

type feedEntry struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Format   string `yaml:"format"`
	Insecure bool   `yaml:"insecure"`
}

type feedsFile struct {
	Feeds []feedEntry `yaml:"feeds"`
}

// LoadFeeds reads and validates the list of feed sources. The list is fixed for the process lifetime.
func LoadFeeds(path string) ([]model.FeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	return ParseFeeds(data)
}

func ParseFeeds(data []byte) ([]model.FeedSource, error) {
	var f feedsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feeds: %w", err)
	}

	if len(f.Feeds) == 0 {
		return nil, errors.New("no feeds configured")
	}

	seen := make(map[string]bool, len(f.Feeds))
	sources := make([]model.FeedSource, 0, len(f.Feeds))
	for i, e := range f.Feeds {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("feed #%d: id is required", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("feed %q: duplicate id", id)
		}
		seen[id] = true

		u, err := url.Parse(strings.TrimSpace(e.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("feed %q: invalid url %q", id, e.URL)
		}

		format, err := parseFormat(e.Format)
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", id, err)
		}

		sources = append(sources, model.FeedSource{
			ID:       id,
			URL:      u.String(),
			Name:     strings.TrimSpace(e.Name),
			Format:   format,
			Insecure: e.Insecure,
		})
	}

	return sources, nil
}

func parseFormat(s string) (model.Format, error) {
	switch model.Format(strings.ToLower(strings.TrimSpace(s))) {
	case model.FormatAuto, "auto":
		return model.FormatAuto, nil
	case model.FormatRSS:
		return model.FormatRSS, nil
	case model.FormatAtom:
		return model.FormatAtom, nil
	case model.FormatJSON:
		return model.FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}
