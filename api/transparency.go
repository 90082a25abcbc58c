// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"symbiont/core/gates"
	"symbiont/core/orchestrator"
)

// Transparency headers describe what the runtime did with a request so a
// caller can inspect the outcome without parsing the body.
const (
	// HeaderRequestID names the pipeline run that produced this response.
	HeaderRequestID = "X-Assist-Request-ID"

	// HeaderStage is the terminal stage the request reached.
	HeaderStage = "X-Assist-Stage"

	// HeaderProvider and HeaderModel identify the backend that generated
	// the response. Absent when no model ran.
	HeaderProvider = "X-Assist-Provider"
	HeaderModel    = "X-Assist-Model"

	// HeaderFallback is "true" when the response came from a different
	// backend than the router originally selected.
	HeaderFallback = "X-Assist-Fallback"

	// HeaderSelectionReason carries the router's rationale for its choice.
	HeaderSelectionReason = "X-Assist-Selection-Reason"

	// HeaderGates summarizes the gate outcome: approved, override, or
	// blocked.
	HeaderGates = "X-Assist-Gates"

	// HeaderGateScores lists per-gate scores as name=score pairs.
	HeaderGateScores = "X-Assist-Gate-Scores"

	// HeaderRedactions counts the PII spans transformed in the user's
	// input before anything left the process.
	HeaderRedactions = "X-Assist-Redactions"

	// HeaderCostUSD is the model spend for this request.
	HeaderCostUSD = "X-Assist-Cost-USD"

	// HeaderErrorKind classifies a failed request.
	HeaderErrorKind = "X-Assist-Error-Kind"
)

// sanitizeHeaderValue strips characters that would allow header injection.
func sanitizeHeaderValue(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, "\x00", "")
}

// setTransparencyHeaders reports the request's trip through the pipeline
// on the response. Call before writing the body.
func setTransparencyHeaders(w http.ResponseWriter, req *orchestrator.Request) {
	h := w.Header()
	h.Set(HeaderRequestID, req.ID)
	h.Set(HeaderStage, string(req.StageCompleted))
	h.Set(HeaderRedactions, strconv.Itoa(len(req.Detections)))
	h.Set(HeaderCostUSD, strconv.FormatFloat(req.CostUSD, 'f', -1, 64))

	if req.Provider != "" {
		h.Set(HeaderProvider, sanitizeHeaderValue(string(req.Provider)))
	}
	if req.Model != "" {
		h.Set(HeaderModel, sanitizeHeaderValue(req.Model))
	}
	if req.Selection != nil {
		fell := req.Selection.Fallback || (req.Provider != "" && req.Provider != req.Selection.Provider)
		h.Set(HeaderFallback, strconv.FormatBool(fell))
		if req.Selection.Reason != "" {
			h.Set(HeaderSelectionReason, sanitizeHeaderValue(req.Selection.Reason))
		}
	}
	if req.Evaluation != nil {
		h.Set(HeaderGates, gateOutcome(req))
		h.Set(HeaderGateScores, gateScores(req.Evaluation))
	}
	if req.ErrorKind != "" {
		h.Set(HeaderErrorKind, string(req.ErrorKind))
	}
}

// gateOutcome collapses the evaluation and any tribunal verdict to one
// word: approved, override, or blocked.
func gateOutcome(req *orchestrator.Request) string {
	if req.Evaluation.AllApproved {
		return "approved"
	}
	if req.Verdict != nil && req.Verdict.Approved {
		return "override"
	}
	return "blocked"
}

// gateScores renders per-gate scores in evaluation order.
func gateScores(eval *gates.Evaluation) string {
	parts := make([]string, 0, len(eval.Results))
	for _, res := range eval.Results {
		parts = append(parts, fmt.Sprintf("%s=%.2f", res.Gate, res.Score))
	}
	return strings.Join(parts, ",")
}
