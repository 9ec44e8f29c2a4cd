package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SelectorsVersion identifies the built-in selector table
const SelectorsVersion = "2024.11-li"

// SelectorConfig is the ordered fallback table used to read the feed DOM.
// For every field the lists are tried in order and the first selector that
// matches wins.
type SelectorConfig struct {
	Version       string   `yaml:"version" json:"version"`
	PostContainer []string `yaml:"post_container" json:"post_container"`
	Text          []string `yaml:"text" json:"text"`
	Likes         []string `yaml:"likes" json:"likes"`
	Comments      []string `yaml:"comments" json:"comments"`
	Impressions   []string `yaml:"impressions" json:"impressions"`
	Timestamp     []string `yaml:"timestamp" json:"timestamp"`
	Permalink     []string `yaml:"permalink" json:"permalink"`
	Image         []string `yaml:"image" json:"image"`
	Video         []string `yaml:"video" json:"video"`
	Article       []string `yaml:"article" json:"article"`
	Document      []string `yaml:"document" json:"document"`
	// IDAttributes are read in order on the container to find a stable post id
	IDAttributes []string `yaml:"id_attributes" json:"id_attributes"`
}

// DefaultSelectors returns the built-in selector table
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Version: SelectorsVersion,
		PostContainer: []string{
			`[data-id^="urn:li:activity:"]`,
			`.feed-shared-update-v2`,
			`[data-urn^="urn:li:activity:"]`,
			`.artdeco-card[data-id]`,
			`.feed-shared-update-v2__content`,
		},
		Text: []string{
			`.feed-shared-update-v2__description-wrapper`,
			`.feed-shared-text`,
			`.feed-shared-update-v2__description`,
			`[data-test-id="main-feed-activity-card__commentary"]`,
			`.feed-shared-update-v2__commentary`,
			`.feed-shared-text__text-view`,
		},
		Likes: []string{
			`[data-test-id="social-actions__reaction-count"]`,
			`.social-actions-button__reaction-count`,
			`.react-count__count`,
			`.social-actions__reaction-count`,
			`.social-counts-reactions__count`,
		},
		Comments: []string{
			`[data-test-id="social-actions__comments"]`,
			`.social-actions-button__comment-count`,
			`.comment-count`,
			`.social-actions__comment-count`,
			`.social-counts-comments__count`,
		},
		Impressions: []string{
			`.feed-shared-update-v2__insights`,
			`.impression-count`,
		},
		Timestamp: []string{
			`time[datetime]`,
			`time`,
			`.update-components-actor__sub-description`,
		},
		Permalink: []string{
			`a[href*="/feed/update/urn:li:activity:"]`,
			`a[href*="/posts/"]`,
		},
		Image: []string{
			`img[src*="media.licdn.com"]`,
		},
		Video: []string{
			`video`,
		},
		Article: []string{
			`.feed-shared-article img`,
		},
		Document: []string{
			`.feed-shared-document`,
		},
		IDAttributes: []string{
			"data-id",
			"data-urn",
		},
	}
}

// Validate checks that the required selector lists are present
func (s SelectorConfig) Validate() error {
	var errs []error
	if len(s.PostContainer) == 0 {
		errs = append(errs, errors.New("selectors: post_container must not be empty"))
	}
	if len(s.Text) == 0 {
		errs = append(errs, errors.New("selectors: text must not be empty"))
	}
	if len(s.IDAttributes) == 0 {
		errs = append(errs, errors.New("selectors: id_attributes must not be empty"))
	}
	return errors.Join(errs...)
}

// LoadSelectors reads a stand-alone selector file and overlays it on base.
// Lists present in the file replace the corresponding base list; absent lists
// are kept.
func LoadSelectors(path string, base SelectorConfig) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read selector file: %w", err)
	}

	var overlay SelectorConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("failed to parse selector file: %w", err)
	}

	merged := base
	if overlay.Version != "" {
		merged.Version = overlay.Version
	}
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&merged.PostContainer, overlay.PostContainer)
	pick(&merged.Text, overlay.Text)
	pick(&merged.Likes, overlay.Likes)
	pick(&merged.Comments, overlay.Comments)
	pick(&merged.Impressions, overlay.Impressions)
	pick(&merged.Timestamp, overlay.Timestamp)
	pick(&merged.Permalink, overlay.Permalink)
	pick(&merged.Image, overlay.Image)
	pick(&merged.Video, overlay.Video)
	pick(&merged.Article, overlay.Article)
	pick(&merged.Document, overlay.Document)
	pick(&merged.IDAttributes, overlay.IDAttributes)

	return merged, merged.Validate()
}
