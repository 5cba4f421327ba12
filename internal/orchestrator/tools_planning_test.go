package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryfabric/queryagent/internal/semantic"
)

const accountsYAML = `
name: accounts
table: dwh_prod.analytics.accounts
grain: one row per account
dimensions:
  - name: region
    sql: region
    type: string
time_dimensions:
  - name: created_at
    sql: created_at
    type: timestamp
measures:
  - name: account_count
    type: count
metrics:
  - name: total_accounts
    type: atomic
    source:
      measure: account_count
      anchor_date: created_at
`

const catalogYAML = `
version: 1
entities:
  - name: accounts
    description: customer accounts
    example_questions:
      - "how many accounts do we have"
`

func newTestStore(t *testing.T) *semantic.Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "accounts.yaml"), []byte(accountsYAML), 0o644))
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogYAML), 0o644))
	return semantic.NewStore(dir, catalogPath)
}

func TestListEntitiesTool(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	tool := &listEntitiesTool{st: st, deps: deps}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "accounts")
}

func TestSearchCatalogTool_RanksMatches(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	tool := &searchCatalogTool{st: st, deps: deps}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"accounts"}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "accounts")
}

func TestSearchCatalogTool_RequiresQuery(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	tool := &searchCatalogTool{st: st, deps: deps}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":""}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestLoadEntityTool_PopulatesRunState(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	tool := &loadEntityTool{st: st, deps: deps}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"name":"accounts"}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	e, ok := st.LoadedEntities["accounts"]
	require.True(t, ok)
	assert.Equal(t, "dwh_prod.analytics.accounts", e.Table)
}

func TestScanEntityPropertiesTool_RequiresLoadedEntity(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	tool := &scanEntityPropertiesTool{st: st, deps: deps}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"entity":"accounts","fields":["region"]}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScanEntityPropertiesTool_IncludesMeasureDetailForMetric(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t)}
	loadTool := &loadEntityTool{st: st, deps: deps}
	_, err := loadTool.Execute(context.Background(), json.RawMessage(`{"name":"accounts"}`))
	require.NoError(t, err)

	scanTool := &scanEntityPropertiesTool{st: st, deps: deps}
	result, err := scanTool.Execute(context.Background(), json.RawMessage(`{"entity":"accounts","fields":["total_accounts"]}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "measure_detail")
}

func TestFinalizePlanTool_RejectsUnresolvedField(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t), AllowedSchemas: []string{"dwh_prod"}}
	loadTool := &loadEntityTool{st: st, deps: deps}
	_, err := loadTool.Execute(context.Background(), json.RawMessage(`{"name":"accounts"}`))
	require.NoError(t, err)

	tool := &finalizePlanTool{st: st, deps: deps}
	params := `{"intent":{"metrics":["nonexistent_metric"],"dimensions":[]},"selected_entities":["accounts"]}`
	result, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Nil(t, st.Plan)
}

func TestFinalizePlanTool_AcceptsValidPlan(t *testing.T) {
	st := newRunState("req-1", "q")
	deps := Deps{Store: newTestStore(t), AllowedSchemas: []string{"dwh_prod"}}
	loadTool := &loadEntityTool{st: st, deps: deps}
	_, err := loadTool.Execute(context.Background(), json.RawMessage(`{"name":"accounts"}`))
	require.NoError(t, err)

	tool := &finalizePlanTool{st: st, deps: deps}
	params := `{"intent":{"metrics":["total_accounts"],"dimensions":["region"]},"selected_entities":["accounts"]}`
	result, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.NotNil(t, st.Plan)
	assert.Equal(t, []string{"accounts"}, st.Plan.SelectedEntities)
}

func TestFinalizeNoDataTool_SetsReason(t *testing.T) {
	st := newRunState("req-1", "q")
	tool := &finalizeNoDataTool{st: st}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"reason":"no entity covers marketing spend"}`))
	require.NoError(t, err)
	assert.Equal(t, "no entity covers marketing spend", st.NoDataReason)
}

func TestClarifyIntentTool_SetsQuestion(t *testing.T) {
	st := newRunState("req-1", "q")
	tool := &clarifyIntentTool{st: st}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"question":"which time range did you mean?"}`))
	require.NoError(t, err)
	assert.Equal(t, "which time range did you mean?", st.ClarifyQuestion)
}
