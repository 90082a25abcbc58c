// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"symbiont/core/config"
	"symbiont/core/events"
	"symbiont/core/storage"
)

// Suite bundles the three instruments behind one handle for the
// orchestrator and the collaborator API.
type Suite struct {
	ARI *ARI
	EDM *EDM
	RDI *RDI
}

// NewSuite wires the instruments against shared infrastructure. bus,
// sink, and checker may be nil.
func NewSuite(cfg config.MonitorConfig, files *storage.Store, bus *events.Bus, sink FeedbackSink, checker FactChecker) (*Suite, error) {
	ari, err := NewARI(cfg, files, bus, sink)
	if err != nil {
		return nil, err
	}
	edm, err := NewEDM(cfg, files, bus, sink, checker)
	if err != nil {
		return nil, err
	}
	return &Suite{
		ARI: ari,
		EDM: edm,
		RDI: NewRDI(cfg, bus),
	}, nil
}

// Reload applies the reloadable monitor settings: ARI alert thresholds,
// RDI drift weights, and the export flag. EDM keeps its construction-time
// settings; the fact-check cascade is not reloadable.
func (s *Suite) Reload(cfg config.MonitorConfig) {
	s.ARI.Reload(cfg)
	s.RDI.Reload(cfg)
}

// Snapshot aggregates the instruments. RDI contributes only anonymous
// bin counts.
func (s *Suite) Snapshot() SuiteSnapshot {
	users, snapshots, alerts := s.ARI.stats()
	total, open, resolved, bySeverity := s.EDM.stats()
	assessments, bins := s.RDI.stats()
	return SuiteSnapshot{
		ARIUsers:        users,
		ARISnapshots:    snapshots,
		ARIAlerts:       alerts,
		DebtsTotal:      total,
		DebtsOpen:       open,
		DebtsResolved:   resolved,
		DebtsBySeverity: bySeverity,
		RDIAssessments:  assessments,
		RDIBins:         bins,
	}
}

// Wait blocks until asynchronous work (fact checks) has drained. Used
// on shutdown.
func (s *Suite) Wait() {
	s.EDM.Wait()
}
