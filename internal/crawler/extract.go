package crawler

import (
	"bytes"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

const (
	// Minimum words for a readability extraction to be trusted over the
	// DOM walker.
	readabilityMinWords = 50
	maxLinksPerPage     = 200
)

// Boilerplate stripped before text extraction. Links are always pulled from
// the full document first, since most internal navigation lives inside these.
var (
	strippedTags = map[string]bool{
		"script": true, "style": true, "noscript": true, "nav": true,
		"footer": true, "header": true, "aside": true, "form": true,
		"template": true, "iframe": true,
	}
	strippedRoles = map[string]bool{
		"navigation": true, "banner": true, "complementary": true,
	}
	strippedClassHints = []string{"cookie", "advert", "ad-banner", "popup", "newsletter-signup"}
)

// extractContent returns the page title and cleaned visible text. Tries the
// Readability algorithm first and converts the article to markdown; falls
// back to the DOM walker when the article comes out too thin (sparse pages,
// app shells, link hubs).
func extractContent(data []byte, pageURL string) (title, content string) {
	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(data), parsedURL)
	if err == nil && article.Node != nil {
		md, mdErr := htmltomarkdown.ConvertNode(article.Node)
		if mdErr == nil {
			text := normalizeContent(string(md))
			if len(strings.Fields(text)) >= readabilityMinWords {
				return article.Title(), text
			}
		}
		// Plain text of the article if markdown conversion came up short.
		var buf bytes.Buffer
		_ = article.RenderText(&buf)
		if text := normalizeContent(buf.String()); len(strings.Fields(text)) >= readabilityMinWords {
			return article.Title(), text
		}
	}

	node, parseErr := html.Parse(bytes.NewReader(data))
	if parseErr != nil {
		return "", ""
	}
	return extractTitle(node), extractVisibleText(node)
}

func extractTitle(node *html.Node) string {
	var titleNode *html.Node
	var findTitle func(*html.Node)
	findTitle = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			titleNode = n
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if titleNode != nil {
				return
			}
			findTitle(child)
		}
	}
	findTitle(node)
	if titleNode == nil {
		return ""
	}
	var buf strings.Builder
	var collectText func(*html.Node)
	collectText = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collectText(child)
		}
	}
	collectText(titleNode)
	return strings.TrimSpace(buf.String())
}

// extractVisibleText walks the DOM collecting visible text, skipping the
// boilerplate strip list, hidden elements, and landmark roles.
func extractVisibleText(node *html.Node) string {
	var builder strings.Builder

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if strippedTags[tag] {
				return
			}
			if hasAttr(n, "hidden") || attrVal(n, "aria-hidden") == "true" {
				return
			}
			if strippedRoles[attrVal(n, "role")] {
				return
			}
			if classMatchesHint(attrVal(n, "class")) {
				return
			}
			switch tag {
			case "h1", "h2", "h3", "h4", "h5", "h6",
				"p", "div", "section", "article", "li", "pre", "blockquote":
				builder.WriteString("\n\n")
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				builder.WriteString(text)
				builder.WriteString(" ")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walker(child)
		}
	}
	walker(node)

	return normalizeContent(builder.String())
}

// extractLinks parses the full HTML and returns unique same-host links
// resolved against baseURL, fragments stripped. Runs on the unstripped
// document.
func extractLinks(data []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= maxLinksPerPage {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
					continue
				}
				resolved, resolveErr := base.Parse(href)
				if resolveErr != nil {
					continue
				}
				if !strings.EqualFold(resolved.Host, base.Host) {
					continue
				}
				resolved.Fragment = ""
				canonical := strings.TrimRight(resolved.String(), "/")
				if !seen[canonical] {
					seen[canonical] = true
					links = append(links, canonical)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links
}

// normalizeContent trims lines and collapses runs of blank lines.
func normalizeContent(content string) string {
	lines := strings.Split(content, "\n")
	var cleaned []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank {
				cleaned = append(cleaned, "")
				blank = true
			}
			continue
		}
		blank = false
		cleaned = append(cleaned, trimmed)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func classMatchesHint(class string) bool {
	if class == "" {
		return false
	}
	class = strings.ToLower(class)
	for _, hint := range strippedClassHints {
		if strings.Contains(class, hint) {
			return true
		}
	}
	return false
}
