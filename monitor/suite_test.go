// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuiteSnapshotAggregates(t *testing.T) {
	checker := &stubChecker{result: FactCheckResult{Status: StatusUnverifiable, Source: "heuristic"}}
	suite, err := NewSuite(testMonitorConfig(), nil, nil, nil, checker)
	require.NoError(t, err)

	_, _, err = suite.ARI.Record(healthySnapshot("alice"))
	require.NoError(t, err)
	_, _, err = suite.ARI.Record(healthySnapshot("bob"))
	require.NoError(t, err)

	debts, err := suite.EDM.Scan("alice", "req-1", "Studies show that snapshots aggregate.")
	require.NoError(t, err)
	require.Len(t, debts, 1)

	_, err = suite.RDI.Assess("alice", "checking totals")
	require.NoError(t, err)

	suite.Wait()
	snap := suite.Snapshot()
	assert.Equal(t, 2, snap.ARIUsers)
	assert.Equal(t, 2, snap.ARISnapshots)
	assert.Equal(t, 1, snap.DebtsTotal)
	assert.Equal(t, 1, snap.DebtsOpen)
	assert.Equal(t, 1, snap.DebtsBySeverity[SeverityHigh])
	assert.Equal(t, 1, snap.RDIAssessments)
	assert.Equal(t, 1, snap.RDIBins[BinAligned])
}

func TestSuiteReloadAppliesThresholdsAndExportFlag(t *testing.T) {
	checker := &stubChecker{result: FactCheckResult{Status: StatusUnverifiable, Source: "heuristic"}}
	suite, err := NewSuite(testMonitorConfig(), nil, nil, nil, checker)
	require.NoError(t, err)

	_, alerts, err := suite.ARI.Record(healthySnapshot("alice"))
	require.NoError(t, err)
	assert.Empty(t, alerts)

	_, err = suite.RDI.Assess("alice", "baseline reading about gardens")
	require.NoError(t, err)
	suite.RDI.SetExportOptIn("alice", true)
	_, err = suite.RDI.Export("alice")
	assert.ErrorIs(t, err, ErrExportNotPermitted, "user opt-in alone must not unlock export")

	next := testMonitorConfig()
	next.ARIBHIRAlert = 2.0
	next.RDIExportOptIn = true
	suite.Reload(next)

	_, alerts, err = suite.ARI.Record(healthySnapshot("alice"))
	require.NoError(t, err)
	assert.NotEmpty(t, alerts, "reloaded BHIR threshold should flag the same snapshot")

	_, err = suite.RDI.Export("alice")
	assert.NoError(t, err)
}
