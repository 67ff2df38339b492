// Package testutil provides shared test helpers and fixtures for opgate.
//
// Philosophy:
// - Prefer real SQLite and real policy tables over mocks.
// - Keep helpers small, composable, and deterministic.
// - Register cleanup via t.Cleanup so tests stay leak-free.
//
// Most packages should start with:
//
//	req := testutil.MakeRequest(testutil.WithAction("sql.exec"), testutil.WithPayload("DELETE FROM t"))
//	d, _ := testutil.MakeDecision(t, req, core.SensitivityProduction, testutil.AffirmativeUI(), core.RunOptions{})
package testutil
