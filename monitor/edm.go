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
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/shared/logger"
	"symbiont/core/storage"
)

const (
	edmDir = "edm"

	// contextRadius is how much surrounding text a debt record keeps.
	contextRadius = 80
	// claimLimit caps the extracted claim length when no sentence
	// boundary is found.
	claimLimit = 120
)

// claimFamily is one lexical detector: patterns plus the debt kind and
// severity a hit incurs.
type claimFamily struct {
	kind     DebtKind
	severity DebtSeverity
	patterns []*regexp.Regexp
}

var families = []claimFamily{
	{
		kind:     DebtUnfalsifiable,
		severity: SeverityMedium,
		patterns: compile(
			`(?i)\beveryone knows\b`,
			`(?i)\bit is widely (known|accepted|understood)\b`,
			`(?i)\bno one can deny\b`,
			`(?i)\bit goes without saying\b`,
			`(?i)\bundeniabl[ey]\b`,
			`(?i)\bobviously true\b`,
		),
	},
	{
		kind:     DebtVague,
		severity: SeverityLow,
		patterns: compile(
			`(?i)\bsome (people|experts|scientists) (say|believe|argue|claim)\b`,
			`(?i)\bmany (people )?believe\b`,
			`(?i)\bit is said that\b`,
			`(?i)\bsources say\b`,
			`(?i)\breportedly\b`,
			`(?i)\bsome argue\b`,
		),
	},
	{
		kind:     DebtMissingCitation,
		severity: SeverityHigh,
		patterns: compile(
			`(?i)\bstudies (show|suggest|have shown|indicate)\b`,
			`(?i)\bresearch (shows|suggests|indicates|has shown)\b`,
			`(?i)\baccording to (a|one|recent) stud(y|ies)\b`,
			`(?i)\bstatistics (show|indicate)\b`,
			`(?i)\bdata (shows?|indicates?)\b`,
			`(?i)\bscientists have (found|discovered|proven)\b`,
		),
	},
}

// citationPatterns clear a missing-citation hit when they appear soon
// after the claim marker.
var citationPatterns = compile(
	`\(\d{4}\)`,
	`\[\d+\]`,
	`https?://\S+`,
	`(?i)\bdoi:\s*\S+`,
	`(?i)\bet al\.`,
	`(?i)\b(journal|proceedings) of\b`,
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// EDM scans model output for epistemic debt and runs the fact-check
// cascade on high-severity claims.
type EDM struct {
	cfg     config.MonitorConfig
	files   *storage.Store
	bus     *events.Bus
	sink    FeedbackSink
	checker FactChecker
	log     *logger.Logger

	mu    sync.Mutex
	debts map[string]*Debt

	checks sync.WaitGroup
	now    func() time.Time
}

// NewEDM restores persisted debts. A nil checker gets the default
// cascade; bus and sink may be nil.
func NewEDM(cfg config.MonitorConfig, files *storage.Store, bus *events.Bus, sink FeedbackSink, checker FactChecker) (*EDM, error) {
	if cfg.CitationWindow <= 0 {
		cfg.CitationWindow = 160
	}
	if checker == nil {
		checker = NewCascade(cfg)
	}
	e := &EDM{
		cfg:     cfg,
		files:   files,
		bus:     bus,
		sink:    sink,
		checker: checker,
		log:     logger.New("monitor.edm"),
		debts:   make(map[string]*Debt),
		now:     time.Now,
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *EDM) load() error {
	if e.files == nil {
		return nil
	}
	names, err := e.files.List(edmDir)
	if err != nil {
		return fmt.Errorf("failed to list epistemic debts: %w", err)
	}
	for _, name := range names {
		var d Debt
		if err := e.files.ReadJSON(edmDir+"/"+name, &d); err != nil {
			e.log.Warn("", "", "skipping unreadable debt record", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		e.debts[d.ID] = &d
	}
	return nil
}

// Scan detects unsupported claims in text and records a debt for each.
// High-severity debts start an asynchronous fact-check that outlives
// the request; Wait blocks until in-flight checks finish.
func (e *EDM) Scan(userID, requestID, text string) ([]Debt, error) {
	var created []Debt
	for _, fam := range families {
		for _, pat := range fam.patterns {
			for _, loc := range pat.FindAllStringIndex(text, -1) {
				if fam.kind == DebtMissingCitation && e.cited(text, loc[1]) {
					continue
				}
				debt, err := e.record(userID, requestID, text, loc, fam)
				if err != nil {
					return created, err
				}
				created = append(created, *debt.clone())
			}
		}
	}
	return created, nil
}

// cited reports whether a citation pattern appears within the citation
// window after offset.
func (e *EDM) cited(text string, offset int) bool {
	end := offset + e.cfg.CitationWindow
	if end > len(text) {
		end = len(text)
	}
	tail := text[offset:end]
	for _, pat := range citationPatterns {
		if pat.MatchString(tail) {
			return true
		}
	}
	return false
}

func (e *EDM) record(userID, requestID, text string, loc []int, fam claimFamily) (*Debt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debt := &Debt{
		ID:         uuid.NewString(),
		UserID:     userID,
		RequestID:  requestID,
		Claim:      extractClaim(text, loc),
		Context:    extractContext(text, loc),
		Severity:   fam.severity,
		Kind:       fam.kind,
		Status:     StatusPending,
		DetectedAt: e.now().UTC(),
	}
	e.debts[debt.ID] = debt
	if err := e.persistLocked(debt); err != nil {
		return nil, err
	}

	e.log.Info(userID, requestID, "epistemic debt detected", map[string]interface{}{
		"debt":     debt.ID,
		"kind":     string(debt.Kind),
		"severity": string(debt.Severity),
		"claim":    debt.Claim,
	})
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Kind:      events.KindEDMDetection,
			UserID:    userID,
			RequestID: requestID,
			Source:    "monitor.edm",
			Payload: map[string]interface{}{
				"debt":     debt.ID,
				"kind":     string(debt.Kind),
				"severity": string(debt.Severity),
			},
		})
	}
	if e.sink != nil && debt.Severity.AtLeast(SeverityMedium) {
		_, _, err := e.sink.Submit(feedback.Event{
			Kind:      feedback.KindEDMAlert,
			Source:    feedbackComponent,
			RequestID: requestID,
			UserID:    userID,
			Text:      debt.Claim,
			Metadata:  map[string]string{"debt": debt.ID, "severity": string(debt.Severity)},
		})
		if err != nil {
			e.log.Warn(userID, requestID, "failed to submit debt feedback", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if debt.Severity.AtLeast(SeverityHigh) {
		e.checks.Add(1)
		go e.factCheck(debt.ID, debt.Claim)
	}
	return debt, nil
}

// factCheck runs the cascade detached from the originating request so
// cancellation of the request cannot orphan a pending debt.
func (e *EDM) factCheck(debtID, claim string) {
	defer e.checks.Done()

	timeout := e.cfg.FactCheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := e.checker.Check(ctx, claim)
	if err != nil {
		e.log.Warn("", "", "fact-check cascade failed", map[string]interface{}{
			"debt":  debtID,
			"error": err.Error(),
		})
		result = FactCheckResult{Status: StatusUnverifiable, Confidence: 0, Source: "none"}
	}
	if err := e.applyFactCheck(debtID, result); err != nil {
		e.log.Warn("", "", "failed to apply fact-check result", map[string]interface{}{
			"debt":  debtID,
			"error": err.Error(),
		})
	}
}

func (e *EDM) applyFactCheck(debtID string, result FactCheckResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	debt, ok := e.debts[debtID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDebtNotFound, debtID)
	}
	debt.Status = result.Status
	debt.Confidence = result.Confidence
	debt.EvidenceSource = result.Source
	if result.Status == StatusVerified && e.cfg.AutoResolveVerified {
		t := e.now().UTC()
		debt.Resolved = true
		debt.ResolutionMethod = "auto_verified"
		debt.ResolvedAt = &t
	}
	return e.persistLocked(debt)
}

// Wait blocks until every in-flight fact-check has completed.
func (e *EDM) Wait() {
	e.checks.Wait()
}

// Resolve closes a debt manually.
func (e *EDM) Resolve(debtID string, status DebtStatus, method string) (*Debt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	debt, ok := e.debts[debtID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDebtNotFound, debtID)
	}
	t := e.now().UTC()
	debt.Status = status
	debt.Resolved = true
	debt.ResolutionMethod = method
	debt.ResolvedAt = &t
	if err := e.persistLocked(debt); err != nil {
		return nil, err
	}
	return debt.clone(), nil
}

// Debt returns one debt record.
func (e *EDM) Debt(debtID string) (*Debt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	debt, ok := e.debts[debtID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDebtNotFound, debtID)
	}
	return debt.clone(), nil
}

// Debts lists debt records, newest first. userID filters when non-empty;
// openOnly drops resolved debts.
func (e *EDM) Debts(userID string, openOnly bool) []Debt {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Debt
	for _, d := range e.debts {
		if userID != "" && d.UserID != userID {
			continue
		}
		if openOnly && d.Resolved {
			continue
		}
		out = append(out, *d.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *EDM) persistLocked(d *Debt) error {
	if e.files == nil {
		return nil
	}
	return e.files.WriteJSON(edmDir+"/"+d.ID+".json", d)
}

// stats reports totals for the suite snapshot.
func (e *EDM) stats() (total, open, resolved int, bySeverity map[DebtSeverity]int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bySeverity = make(map[DebtSeverity]int)
	for _, d := range e.debts {
		total++
		if d.Resolved {
			resolved++
		} else {
			open++
		}
		bySeverity[d.Severity]++
	}
	return total, open, resolved, bySeverity
}

// extractClaim returns the matched phrase extended to the end of its
// sentence, bounded by claimLimit.
func extractClaim(text string, loc []int) string {
	end := loc[1]
	for end < len(text) && end-loc[0] < claimLimit {
		c := text[end]
		if c == '.' || c == '!' || c == '?' || c == '\n' {
			break
		}
		end++
	}
	return strings.TrimSpace(text[loc[0]:end])
}

// extractContext returns text around the match for the record.
func extractContext(text string, loc []int) string {
	start := loc[0] - contextRadius
	if start < 0 {
		start = 0
	}
	end := loc[1] + contextRadius
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
