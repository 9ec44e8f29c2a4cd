package extractor

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedharvest/pkg/config"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

var (
	activityURN = regexp.MustCompile(`urn:li:activity:\d+`)
	countToken  = regexp.MustCompile(`(\d{1,3}(?:[.,\x{00a0} ]\d{3})+|\d+(?:[.,]\d+)?)(?:([kKmM])\b)?`)
	relToken    = regexp.MustCompile(`(\d+)\s*(months?|mo|minutes?|mins?|min|years?|yrs?|yr|hours?|hrs?|hr|weeks?|wks?|wk|days?|seconds?|secs?|sec|s|m|h|d|w|y)\b`)
	spaceRun    = regexp.MustCompile(`\s+`)
	nonDigit    = regexp.MustCompile(`\D`)
)

// Parser turns one DOM snapshot into post records using the selector table
type Parser struct {
	selectors config.SelectorConfig
	prefix    string
	base      *url.URL
	now       func() time.Time
	logger    logger.Logger
}

// NewParser builds a parser. baseURL resolves relative permalinks; prefix is
// prepended to activity urns to form the natural key.
func NewParser(selectors config.SelectorConfig, baseURL, prefix string, log logger.Logger) *Parser {
	base, _ := url.Parse(baseURL)
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Parser{
		selectors: selectors,
		prefix:    prefix,
		base:      base,
		now:       time.Now,
		logger:    log,
	}
}

// ParseResult is the outcome of one snapshot
type ParseResult struct {
	Posts []models.Post
	// Selector is the container selector that matched, empty if none did
	Selector string
	// Skipped counts containers dropped because they failed to parse
	Skipped int
}

// Parse extracts every post container visible in html
func (p *Parser) Parse(html string) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ParseResult{}, fmt.Errorf("parse snapshot: %w", err)
	}

	var res ParseResult
	containers, selector := firstMatch(doc.Selection, p.selectors.PostContainer)
	if containers == nil {
		return res, nil
	}
	res.Selector = selector

	now := p.now()
	containers.Each(func(i int, s *goquery.Selection) {
		post, ok, err := p.parseContainer(s, i, now)
		if err != nil {
			res.Skipped++
			p.logger.WarnWithFields("Skipping malformed post container", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			return
		}
		if ok {
			res.Posts = append(res.Posts, post)
		}
	})
	return res, nil
}

// parseContainer reads every field independently; a missing field keeps its
// zero value. A panic inside a container only skips that container.
func (p *Parser) parseContainer(s *goquery.Selection, index int, now time.Time) (post models.Post, keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			keep = false
		}
	}()

	post.Text = p.text(s)
	post.Likes = p.count(s, p.selectors.Likes)
	post.Comments = p.count(s, p.selectors.Comments)
	post.Impressions = p.count(s, p.selectors.Impressions)
	post.PostedAt = p.postedAt(s, now)
	p.media(s, &post)

	stable := false
	if urn := p.activityURN(s); urn != "" {
		post.PostURL = p.prefix + urn + "/"
		stable = true
	} else if link := p.permalink(s); link != "" {
		post.PostURL = link
		stable = true
	} else {
		post.PostURL = fmt.Sprintf("post-%d-%d", now.UnixMilli(), index)
		post.Synthetic = true
	}

	return post, post.Text != "" || stable, nil
}

// firstMatch returns the matches of the first selector with at least one hit
func firstMatch(root *goquery.Selection, selectors []string) (*goquery.Selection, string) {
	for _, sel := range selectors {
		if found := root.Find(sel); found.Length() > 0 {
			return found, sel
		}
	}
	return nil, ""
}

// firstText returns the trimmed text of the first selector with non-empty text
func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		var text string
		s.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			text = normalizeSpace(el.Text())
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}

func (p *Parser) text(s *goquery.Selection) string {
	return firstText(s, p.selectors.Text)
}

func (p *Parser) count(s *goquery.Selection, selectors []string) int {
	return ParseCount(firstText(s, selectors))
}

func (p *Parser) activityURN(s *goquery.Selection) string {
	for _, attr := range p.selectors.IDAttributes {
		if v, ok := s.Attr(attr); ok {
			if urn := activityURN.FindString(v); urn != "" {
				return urn
			}
		}
	}
	for _, attr := range p.selectors.IDAttributes {
		if v, ok := s.Find("[" + attr + "]").First().Attr(attr); ok {
			if urn := activityURN.FindString(v); urn != "" {
				return urn
			}
		}
	}
	return ""
}

func (p *Parser) permalink(s *goquery.Selection) string {
	for _, sel := range p.selectors.Permalink {
		href, ok := s.Find(sel).First().Attr("href")
		if !ok || href == "" {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		if p.base != nil {
			u = p.base.ResolveReference(u)
		}
		u.RawQuery = ""
		u.Fragment = ""
		return u.String()
	}
	return ""
}

func (p *Parser) postedAt(s *goquery.Selection, now time.Time) time.Time {
	for _, sel := range p.selectors.Timestamp {
		el := s.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if dt, ok := el.Attr("datetime"); ok {
			if t, ok := ParseTimestamp(dt); ok {
				return t
			}
		}
		if t, ok := ParseRelative(el.Text(), now); ok {
			return t
		}
	}
	return now
}

// media applies image, video, article then document detection; later kinds
// override the type set by earlier ones.
func (p *Parser) media(s *goquery.Selection, post *models.Post) {
	for _, sel := range p.selectors.Image {
		s.Find(sel).Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok && src != "" {
				post.MediaURLs = append(post.MediaURLs, src)
			}
		})
		if len(post.MediaURLs) > 0 {
			post.MediaURL = post.MediaURLs[0]
			post.MediaType = models.MediaImage
			break
		}
	}

	for _, sel := range p.selectors.Video {
		v := s.Find(sel).First()
		if v.Length() == 0 {
			continue
		}
		src, _ := v.Attr("src")
		if src == "" {
			src, _ = v.Attr("data-sources")
		}
		if src == "" {
			src, _ = v.Find("source").First().Attr("src")
		}
		post.MediaURL = src
		post.MediaType = models.MediaVideo
		break
	}

	for _, sel := range p.selectors.Article {
		if src, ok := s.Find(sel).First().Attr("src"); ok && src != "" {
			post.MediaURL = src
			post.MediaType = models.MediaArticle
			break
		}
	}

	for _, sel := range p.selectors.Document {
		if s.Find(sel).Length() > 0 {
			post.MediaType = models.MediaDocument
			break
		}
	}
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// ParseCount reads an engagement counter such as "1,234", "1.2K" or
// "12 comments". A space only groups thousands, so "42 3 comments" is 42.
// Unparseable input yields 0.
func ParseCount(text string) int {
	m := countToken.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	num := m[1]
	switch strings.ToLower(m[2]) {
	case "k", "m":
		mult := 1_000.0
		if strings.EqualFold(m[2], "m") {
			mult = 1_000_000
		}
		num = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(num)
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0
		}
		return int(math.Round(f * mult))
	}
	n, err := strconv.Atoi(nonDigit.ReplaceAllString(num, ""))
	if err != nil {
		return 0
	}
	return n
}

// ParseTimestamp accepts RFC 3339 timestamps and plain dates
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseRelative converts feed-style ages ("3h", "2d", "1w", "4mo", "1yr",
// "5 days ago") into an absolute time relative to now
func ParseRelative(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(normalizeSpace(text))
	if lower == "" {
		return time.Time{}, false
	}
	if strings.HasPrefix(lower, "now") || strings.HasPrefix(lower, "just now") {
		return now, true
	}

	m := relToken.FindStringSubmatch(lower)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}

	unit := m[2]
	var d time.Duration
	switch {
	case strings.HasPrefix(unit, "mo"):
		return now.AddDate(0, -n, 0), true
	case strings.HasPrefix(unit, "y"):
		return now.AddDate(-n, 0, 0), true
	case strings.HasPrefix(unit, "w"):
		return now.AddDate(0, 0, -7*n), true
	case strings.HasPrefix(unit, "d"):
		return now.AddDate(0, 0, -n), true
	case strings.HasPrefix(unit, "h"):
		d = time.Hour
	case strings.HasPrefix(unit, "mi") || unit == "m":
		d = time.Minute
	case strings.HasPrefix(unit, "s"):
		d = time.Second
	default:
		return time.Time{}, false
	}
	return now.Add(-time.Duration(n) * d), true
}
