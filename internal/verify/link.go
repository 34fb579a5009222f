package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// LinkCheck verifies link tasks by fetching the target page. A dead or
// unparsable target fails the check and sends the execution to manual
// review; it never auto-rejects.
type LinkCheck struct {
	httpClient *http.Client
	// Selector, when set, must match at least one element on the page.
	Selector string
}

func NewLinkCheck() *LinkCheck {
	return &LinkCheck{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *LinkCheck) Check(ctx context.Context, target string, _ int64) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return false, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("fetch target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("target returned %d", resp.StatusCode), nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false, "", fmt.Errorf("parse target page: %w", err)
	}

	if c.Selector != "" && doc.Find(c.Selector).Length() == 0 {
		return false, fmt.Sprintf("selector %q not found on target", c.Selector), nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return true, fmt.Sprintf("target reachable: %s", title), nil
}
