// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"symbiont/core/config"
	"symbiont/core/shared/logger"
)

// DefaultEncyclopediaURL is the summary endpoint used when none is
// configured.
const DefaultEncyclopediaURL = "https://en.wikipedia.org/api/rest_v1/page/summary"

// FactChecker resolves a claim to a verdict.
type FactChecker interface {
	Check(ctx context.Context, claim string) (FactCheckResult, error)
}

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// errNoFinding moves the cascade to its next tier: the tier worked but
// had nothing to say about the claim.
var errNoFinding = errors.New("monitor: no finding for claim")

// Cascade is the default fact checker: a keyed structured API when
// configured, then an encyclopedia lookup, then a lexical heuristic
// that always produces a verdict.
type Cascade struct {
	cfg    config.MonitorConfig
	client HTTPClient
	log    *logger.Logger
}

// NewCascade builds the default cascade from config.
func NewCascade(cfg config.MonitorConfig) *Cascade {
	timeout := cfg.FactCheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cascade{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    logger.New("monitor.factcheck"),
	}
}

// Check runs the tiers in order. Tier errors and empty findings fall
// through; the heuristic tier is terminal and never fails.
func (c *Cascade) Check(ctx context.Context, claim string) (FactCheckResult, error) {
	if c.cfg.FactCheckAPIKey != "" && c.cfg.FactCheckEndpoint != "" {
		result, err := c.checkAPI(ctx, claim)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errNoFinding) {
			c.log.Warn("", "", "fact-check api tier failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if ctx.Err() != nil {
			return FactCheckResult{}, ctx.Err()
		}
	}

	result, err := c.checkEncyclopedia(ctx, claim)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, errNoFinding) {
		c.log.Warn("", "", "encyclopedia tier failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if ctx.Err() != nil {
		return FactCheckResult{}, ctx.Err()
	}

	return heuristicVerdict(claim), nil
}

// factCheckResponse mirrors the structured fact-check API result shape.
type factCheckResponse struct {
	Claims []struct {
		Text        string `json:"text"`
		ClaimReview []struct {
			TextualRating string `json:"textualRating"`
			URL           string `json:"url"`
			Publisher     struct {
				Name string `json:"name"`
			} `json:"publisher"`
		} `json:"claimReview"`
	} `json:"claims"`
}

func (c *Cascade) checkAPI(ctx context.Context, claim string) (FactCheckResult, error) {
	q := url.Values{}
	q.Set("query", claim)
	q.Set("key", c.cfg.FactCheckAPIKey)
	endpoint := c.cfg.FactCheckEndpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("failed to build fact-check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("fact-check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return FactCheckResult{}, fmt.Errorf("fact-check api returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed factCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return FactCheckResult{}, fmt.Errorf("failed to decode fact-check response: %w", err)
	}
	for _, cl := range parsed.Claims {
		for _, review := range cl.ClaimReview {
			status := mapRating(review.TextualRating)
			if status == StatusUnverifiable {
				continue
			}
			return FactCheckResult{
				Status:     status,
				Confidence: 0.8,
				Source:     "fact-check-api",
				Detail:     fmt.Sprintf("%s: %s", review.Publisher.Name, review.TextualRating),
			}, nil
		}
	}
	return FactCheckResult{}, errNoFinding
}

// mapRating folds the free-form textual rating onto a debt status.
// False markers are tested first so "mostly false" never verifies.
func mapRating(rating string) DebtStatus {
	r := strings.ToLower(rating)
	switch {
	case strings.Contains(r, "false") || strings.Contains(r, "incorrect") ||
		strings.Contains(r, "fake") || strings.Contains(r, "pants on fire"):
		return StatusFalse
	case strings.Contains(r, "misleading") || strings.Contains(r, "mixture") ||
		strings.Contains(r, "partly") || strings.Contains(r, "half"):
		return StatusDisputed
	case strings.Contains(r, "true") || strings.Contains(r, "correct") ||
		strings.Contains(r, "accurate"):
		return StatusVerified
	default:
		return StatusUnverifiable
	}
}

// encyclopediaSummary mirrors the summary endpoint's response shape.
type encyclopediaSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
}

func (c *Cascade) checkEncyclopedia(ctx context.Context, claim string) (FactCheckResult, error) {
	topic := claimTopic(claim)
	if topic == "" {
		return FactCheckResult{}, errNoFinding
	}
	base := c.cfg.EncyclopediaURL
	if base == "" {
		base = DefaultEncyclopediaURL
	}
	endpoint := strings.TrimSuffix(base, "/") + "/" + url.PathEscape(topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("failed to build encyclopedia request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return FactCheckResult{}, fmt.Errorf("encyclopedia request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return FactCheckResult{}, errNoFinding
	}
	if resp.StatusCode != http.StatusOK {
		return FactCheckResult{}, fmt.Errorf("encyclopedia returned %d", resp.StatusCode)
	}

	var summary encyclopediaSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return FactCheckResult{}, fmt.Errorf("failed to decode encyclopedia response: %w", err)
	}

	// Corroboration by vocabulary overlap: enough of the claim's content
	// words appearing in the article extract counts as weak verification.
	if overlap(claim, summary.Extract) >= 3 {
		return FactCheckResult{
			Status:     StatusVerified,
			Confidence: 0.6,
			Source:     "encyclopedia",
			Detail:     summary.Title,
		}, nil
	}
	return FactCheckResult{}, errNoFinding
}

// claimTopic picks the lookup title: the longest run of capitalized
// words, else the first significant words of the claim.
func claimTopic(claim string) string {
	words := strings.Fields(claim)

	var best []string
	var run []string
	for _, w := range words {
		trimmed := strings.Trim(w, ".,;:!?\"'()")
		if trimmed != "" && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
			run = append(run, trimmed)
			if len(run) > len(best) {
				best = append([]string(nil), run...)
			}
			continue
		}
		run = nil
	}
	if len(best) > 0 {
		return strings.Join(best, " ")
	}

	var significant []string
	for _, w := range words {
		trimmed := strings.Trim(strings.ToLower(w), ".,;:!?\"'()")
		if len(trimmed) >= 4 {
			significant = append(significant, trimmed)
		}
		if len(significant) == 3 {
			break
		}
	}
	return strings.Join(significant, " ")
}

// overlap counts distinct significant claim words present in text.
func overlap(claim, text string) int {
	if text == "" {
		return 0
	}
	haystack := strings.ToLower(text)
	seen := make(map[string]bool)
	count := 0
	for _, w := range strings.Fields(strings.ToLower(claim)) {
		trimmed := strings.Trim(w, ".,;:!?\"'()")
		if len(trimmed) < 4 || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		if strings.Contains(haystack, trimmed) {
			count++
		}
	}
	return count
}

// hedgeWords mark claims that cannot be pinned down; absoluteWords mark
// claims almost certainly overstated.
var (
	hedgeWords    = []string{"might", "may", "could", "possibly", "perhaps", "arguably", "seems"}
	absoluteWords = []string{"always", "never", "all", "none", "every", "guaranteed", "100%", "impossible"}
)

// heuristicVerdict is the terminal tier: a lexical judgment on the
// claim itself when no external source answered.
func heuristicVerdict(claim string) FactCheckResult {
	lower := " " + strings.ToLower(claim) + " "
	for _, w := range absoluteWords {
		if strings.Contains(lower, " "+w+" ") {
			return FactCheckResult{
				Status:     StatusDisputed,
				Confidence: 0.5,
				Source:     "heuristic",
				Detail:     "absolute phrasing is rarely fully supportable",
			}
		}
	}
	for _, w := range hedgeWords {
		if strings.Contains(lower, " "+w+" ") {
			return FactCheckResult{
				Status:     StatusUnverifiable,
				Confidence: 0.3,
				Source:     "heuristic",
				Detail:     "hedged phrasing cannot be pinned to a checkable claim",
			}
		}
	}
	return FactCheckResult{
		Status:     StatusUnverifiable,
		Confidence: 0.3,
		Source:     "heuristic",
	}
}
