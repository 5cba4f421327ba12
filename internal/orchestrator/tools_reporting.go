package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/queryfabric/queryagent/internal/exec"
	"github.com/queryfabric/queryagent/internal/mcp"
)

const (
	csvRowCap     = 1000
	previewRowCap = 30
)

// ReportOutcome is the terminal artifact of a request: a narrative with a
// mechanically-assigned confidence band, the result encoded as CSV, and
// whatever sanity findings surfaced along the way.
type ReportOutcome struct {
	Narrative      string           `json:"narrative"`
	Confidence     string           `json:"confidence"` // "high", "medium", "low"
	CSVBase64      string           `json:"csv_base64,omitempty"`
	PreviewRows    []map[string]any `json:"preview_rows,omitempty"`
	TotalRows      int              `json:"total_rows"`
	CSVTruncated   bool             `json:"csv_truncated"`
	SanityFindings []string         `json:"sanity_findings,omitempty"`
}

// reportingTools returns the Reporting phase's tool allow-list.
func reportingTools(st *RunState, deps Deps) []mcp.Tool {
	return []mcp.Tool{
		&sanityCheckTool{st: st, deps: deps},
		&formatResultsTool{st: st, deps: deps},
		&explainResultsTool{st: st, deps: deps},
		&finalizeReportTool{st: st, deps: deps},
	}
}

// --- sanity_check ---

type sanityCheckTool struct {
	st   *RunState
	deps Deps
}

func (t *sanityCheckTool) Name() string { return "sanity_check" }
func (t *sanityCheckTool) Description() string {
	return "Scan the execution result for columns that are null in every row and for negative values in numeric columns. Percentage columns are not range-checked. Informational only."
}
func (t *sanityCheckTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *sanityCheckTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	result := t.st.ExecResult
	t.st.mu.Unlock()

	if result == nil {
		return mcp.ErrorResult("no execution result yet"), nil
	}
	if !result.OK {
		return mcp.JSONResult(map[string]any{"findings": []string{"execution failed; no rows to check"}})
	}

	findings := sanityFindings(result.Columns, result.Rows)
	return mcp.JSONResult(map[string]any{"findings": findings})
}

func sanityFindings(columns []exec.Column, rows []map[string]any) []string {
	var findings []string
	if len(rows) == 0 {
		return []string{"result set is empty"}
	}

	nullCounts := make(map[string]int, len(columns))
	for _, row := range rows {
		for _, col := range columns {
			v, ok := row[col.Name]
			if !ok || v == nil {
				nullCounts[col.Name]++
			}
		}
	}
	for _, col := range columns {
		if n := nullCounts[col.Name]; n > 0 && n == len(rows) {
			findings = append(findings, fmt.Sprintf("column %q is null in every row", col.Name))
		}
	}

	for _, col := range columns {
		if col.Type != "" && !isNumericType(col.Type) {
			continue
		}
		for _, row := range rows {
			if f, ok := asFloat(row[col.Name]); ok && f < 0 {
				findings = append(findings, fmt.Sprintf("column %q contains a negative value", col.Name))
				break
			}
		}
	}

	sort.Strings(findings)
	return findings
}

func isNumericType(t string) bool {
	switch t {
	case "NUMBER", "FLOAT", "INTEGER", "INT", "DECIMAL", "DOUBLE":
		return true
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// --- format_results ---

type formatResultsTool struct {
	st   *RunState
	deps Deps
}

func (t *formatResultsTool) Name() string { return "format_results" }
func (t *formatResultsTool) Description() string {
	return "Encode up to the first 1000 result rows as base64 CSV, with a 30-row preview and a truncation flag."
}
func (t *formatResultsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *formatResultsTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	t.st.mu.Lock()
	result := t.st.ExecResult
	t.st.mu.Unlock()

	if result == nil || !result.OK {
		return mcp.ErrorResult("no successful execution result to format"), nil
	}

	colNames := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		colNames[i] = c.Name
	}

	encodeRows := result.Rows
	truncated := false
	if len(encodeRows) > csvRowCap {
		encodeRows = encodeRows[:csvRowCap]
		truncated = true
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(colNames); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range encodeRows {
		record := make([]string, len(colNames))
		for i, name := range colNames {
			record[i] = fmt.Sprintf("%v", row[name])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}

	previewCount := len(encodeRows)
	if previewCount > previewRowCap {
		previewCount = previewRowCap
	}
	preview := encodeRows[:previewCount]

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	t.st.mu.Lock()
	if t.st.Report == nil {
		t.st.Report = &ReportOutcome{}
	}
	t.st.Report.CSVBase64 = encoded
	t.st.Report.PreviewRows = preview
	t.st.Report.TotalRows = len(result.Rows)
	t.st.Report.CSVTruncated = truncated || result.Truncated
	t.st.mu.Unlock()

	return mcp.JSONResult(map[string]any{
		"csv_base64":    encoded,
		"preview_rows":  preview,
		"total_rows":    len(result.Rows),
		"csv_truncated": truncated || result.Truncated,
	})
}

// --- explain_results ---

type explainResultsTool struct {
	st   *RunState
	deps Deps
}

func (t *explainResultsTool) Name() string { return "explain_results" }
func (t *explainResultsTool) Description() string {
	return "Produce a narrative explanation of the result with a confidence rating. Confidence is lowered mechanically when the result was truncated, repaired, or failed; it is never raised by the narrative text itself."
}
func (t *explainResultsTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"narrative":{"type":"string"}},"required":["narrative"]}`)
}
func (t *explainResultsTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p struct {
		Narrative string `json:"narrative"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	t.st.mu.Lock()
	result := t.st.ExecResult
	t.st.mu.Unlock()
	if result == nil {
		return mcp.ErrorResult("no execution result yet"), nil
	}

	confidence := confidenceBand(result.OK, result.Truncated, result.Repaired)

	t.st.mu.Lock()
	if t.st.Report == nil {
		t.st.Report = &ReportOutcome{}
	}
	t.st.Report.Narrative = p.Narrative
	t.st.Report.Confidence = confidence
	t.st.mu.Unlock()

	return mcp.JSONResult(map[string]any{"confidence": confidence})
}

// confidenceBand applies the mechanical rule: a failed execution is
// always low; a truncated or repaired-but-successful result is medium;
// anything else is high. The model never sets this directly.
func confidenceBand(ok, truncated, repaired bool) string {
	if !ok {
		return "low"
	}
	if truncated || repaired {
		return "medium"
	}
	return "high"
}

// --- finalize_report ---

type finalizeReportTool struct {
	st   *RunState
	deps Deps
}

func (t *finalizeReportTool) Name() string { return "finalize_report" }
func (t *finalizeReportTool) Description() string {
	return "End the request with the accumulated report (narrative, confidence, CSV, sanity findings)."
}
func (t *finalizeReportTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"sanity_findings":{"type":"array","items":{"type":"string"}}}}`)
}
func (t *finalizeReportTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p struct {
		SanityFindings []string `json:"sanity_findings"`
	}
	_ = json.Unmarshal(params, &p)

	t.st.mu.Lock()
	if t.st.Report == nil {
		t.st.Report = &ReportOutcome{}
	}
	t.st.Report.SanityFindings = p.SanityFindings
	report := *t.st.Report
	t.st.mu.Unlock()

	return mcp.JSONResult(report)
}
