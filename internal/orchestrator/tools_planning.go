package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/queryfabric/queryagent/internal/mcp"
	"github.com/queryfabric/queryagent/internal/plan"
	"github.com/queryfabric/queryagent/internal/semantic"
	"github.com/queryfabric/queryagent/internal/sql"
)

// planningTools returns the Planning phase's tool allow-list, each tool
// closing over st so it can accumulate loaded entities and, eventually,
// a finalized plan.
func planningTools(st *RunState, deps Deps) []mcp.Tool {
	return []mcp.Tool{
		&listEntitiesTool{st: st, deps: deps},
		&searchCatalogTool{st: st, deps: deps},
		&readRawDescriptorTool{st: st, deps: deps},
		&loadEntityTool{st: st, deps: deps},
		&loadManyEntitiesTool{st: st, deps: deps},
		&searchSchemaTool{st: st, deps: deps},
		&scanEntityPropertiesTool{st: st, deps: deps},
		&assessCoverageTool{st: st, deps: deps},
		&finalizePlanTool{st: st, deps: deps},
		&finalizeNoDataTool{st: st, deps: deps},
		&clarifyIntentTool{st: st, deps: deps},
	}
}

// --- list_entities ---

type listEntitiesTool struct {
	st   *RunState
	deps Deps
}

func (t *listEntitiesTool) Name() string        { return "list_entities" }
func (t *listEntitiesTool) Description() string {
	return "List every entity name available in the semantic layer, without loading them."
}
func (t *listEntitiesTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *listEntitiesTool) Execute(_ context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	names, err := t.deps.Store.ListEntities()
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	sort.Strings(names)
	return mcp.JSONResult(map[string]any{"entities": names})
}

// --- search_catalog ---

type searchCatalogTool struct {
	st   *RunState
	deps Deps
}

func (t *searchCatalogTool) Name() string { return "search_catalog" }
func (t *searchCatalogTool) Description() string {
	return "Keyword-score the entity catalog (name, description, example questions) against a query and return the top 5 matches."
}
func (t *searchCatalogTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Free-text query, typically the user question or a paraphrase"}
  },
  "required": ["query"]
}`)
}

type searchCatalogParams struct {
	Query string `json:"query"`
}

func (t *searchCatalogTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p searchCatalogParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Query == "" {
		return mcp.ErrorResult("query is required"), nil
	}

	catalog, err := t.deps.Store.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	terms := strings.Fields(strings.ToLower(p.Query))
	type scored struct {
		card  semantic.CatalogCard
		score int
	}
	var results []scored
	for _, card := range catalog.Entities {
		score := 0
		haystackName := strings.ToLower(card.Name)
		haystackDesc := strings.ToLower(card.Description)
		var haystackQuestions string
		for _, q := range card.ExampleQuestions {
			haystackQuestions += " " + strings.ToLower(q)
		}
		for _, term := range terms {
			if strings.Contains(haystackName, term) {
				score += 5
			}
			if strings.Contains(haystackDesc, term) {
				score += 2
			}
			if strings.Contains(haystackQuestions, term) {
				score += 3
			}
		}
		if score > 0 {
			results = append(results, scored{card: card, score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > 5 {
		results = results[:5]
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{"name": r.card.Name, "description": r.card.Description, "score": r.score}
	}
	return mcp.JSONResult(map[string]any{"matches": out})
}

// --- read_raw_descriptor ---

type readRawDescriptorTool struct {
	st   *RunState
	deps Deps
}

func (t *readRawDescriptorTool) Name() string { return "read_raw_descriptor" }
func (t *readRawDescriptorTool) Description() string {
	return "Return the unparsed YAML descriptor text for one entity, for direct inspection."
}
func (t *readRawDescriptorTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
}

type entityNameParams struct {
	Name string `json:"name"`
}

func (t *readRawDescriptorTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p entityNameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	raw, err := t.deps.Store.ReadRaw(p.Name)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}
	return &mcp.ToolsCallResult{Content: []mcp.ContentBlock{mcp.TextContent(raw)}}, nil
}

// --- load_entity ---

type loadEntityTool struct {
	st   *RunState
	deps Deps
}

func (t *loadEntityTool) Name() string { return "load_entity" }
func (t *loadEntityTool) Description() string {
	return "Load and validate one entity by name, making it available for joins, metrics, and the final plan."
}
func (t *loadEntityTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
}
func (t *loadEntityTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p entityNameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	e, err := t.deps.Store.LoadEntity(p.Name)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	t.st.mu.Lock()
	t.st.LoadedEntities[e.Name] = e
	t.st.mu.Unlock()

	return mcp.JSONResult(entitySummary(e))
}

// --- load_many_entities ---

type loadManyEntitiesTool struct {
	st   *RunState
	deps Deps
}

func (t *loadManyEntitiesTool) Name() string { return "load_many_entities" }
func (t *loadManyEntitiesTool) Description() string {
	return "Load and validate several entities at once."
}
func (t *loadManyEntitiesTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"names":{"type":"array","items":{"type":"string"}}},"required":["names"]}`)
}

type entityNamesParams struct {
	Names []string `json:"names"`
}

func (t *loadManyEntitiesTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p entityNamesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	loaded, err := t.deps.Store.LoadEntities(p.Names)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	t.st.mu.Lock()
	summaries := make(map[string]any, len(loaded))
	for name, e := range loaded {
		t.st.LoadedEntities[name] = e
		summaries[name] = entitySummary(e)
	}
	t.st.mu.Unlock()

	return mcp.JSONResult(summaries)
}

func entitySummary(e *semantic.Entity) map[string]any {
	dims := make([]string, 0, len(e.Dimensions))
	for _, d := range e.Dimensions {
		dims = append(dims, d.Name)
	}
	measures := make([]string, 0, len(e.Measures))
	for _, m := range e.Measures {
		measures = append(measures, m.Name)
	}
	metrics := make([]string, 0, len(e.Metrics))
	for _, m := range e.Metrics {
		metrics = append(metrics, m.Name)
	}
	joins := make([]string, 0, len(e.Joins))
	for _, j := range e.Joins {
		joins = append(joins, j.TargetEntity)
	}
	return map[string]any{
		"name":        e.Name,
		"table":       e.Table,
		"description": e.Description,
		"dimensions":  dims,
		"measures":    measures,
		"metrics":     metrics,
		"joins":       joins,
	}
}

// --- search_schema ---

type searchSchemaTool struct {
	st   *RunState
	deps Deps
}

func (t *searchSchemaTool) Name() string { return "search_schema" }
func (t *searchSchemaTool) Description() string {
	return "Substring-search raw entity descriptor text across every entity, returning the matching file and line context."
}
func (t *searchSchemaTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"substring":{"type":"string"}},"required":["substring"]}`)
}

type searchSchemaParams struct {
	Substring string `json:"substring"`
}

func (t *searchSchemaTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p searchSchemaParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Substring == "" {
		return mcp.ErrorResult("substring is required"), nil
	}

	names, err := t.deps.Store.ListEntities()
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	type hit struct {
		Entity string `json:"entity"`
		Line   int    `json:"line"`
		Text   string `json:"text"`
	}
	var hits []hit
	needle := strings.ToLower(p.Substring)
	for _, name := range names {
		raw, err := t.deps.Store.ReadRaw(name)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(raw, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, hit{Entity: name, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
	}
	return mcp.JSONResult(map[string]any{"hits": hits})
}

// --- scan_entity_properties ---

type scanEntityPropertiesTool struct {
	st   *RunState
	deps Deps
}

func (t *scanEntityPropertiesTool) Name() string { return "scan_entity_properties" }
func (t *scanEntityPropertiesTool) Description() string {
	return "Hydrate a selected set of fields on an already-loaded entity, including the measure any requested metric depends on."
}
func (t *scanEntityPropertiesTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "entity": {"type": "string"},
    "fields": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["entity", "fields"]
}`)
}

type scanEntityPropertiesParams struct {
	Entity string   `json:"entity"`
	Fields []string `json:"fields"`
}

func (t *scanEntityPropertiesTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p scanEntityPropertiesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	t.st.mu.Lock()
	e, ok := t.st.LoadedEntities[p.Entity]
	t.st.mu.Unlock()
	if !ok {
		return mcp.ErrorResult(fmt.Sprintf("entity %q is not loaded; call load_entity first", p.Entity)), nil
	}

	out := make(map[string]any, len(p.Fields))
	for _, field := range p.Fields {
		if d, ok := e.ResolveDimension(field); ok {
			out[field] = map[string]any{"kind": "dimension", "sql": d.SQL, "type": d.Type}
			continue
		}
		if m, ok := e.ResolveMeasure(field); ok {
			out[field] = map[string]any{"kind": "measure", "type": m.Type, "sql": m.SQL}
			continue
		}
		if mt, ok := e.ResolveMetric(field); ok {
			dep := map[string]any{"kind": "metric", "measure": mt.Source.Measure, "anchor_date": mt.Source.AnchorDate}
			if measure, ok := e.ResolveMeasure(mt.Source.Measure); ok {
				dep["measure_detail"] = map[string]any{"type": measure.Type, "sql": measure.SQL}
			}
			out[field] = dep
			continue
		}
		out[field] = map[string]any{"error": "field not found on entity"}
	}
	return mcp.JSONResult(out)
}

// --- assess_coverage ---

type assessCoverageTool struct {
	st   *RunState
	deps Deps
}

func (t *assessCoverageTool) Name() string { return "assess_coverage" }
func (t *assessCoverageTool) Description() string {
	return "Annotate, for your own reasoning only, how well the loaded entities cover the question. Does not change any state."
}
func (t *assessCoverageTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"notes":{"type":"string"}},"required":["notes"]}`)
}
func (t *assessCoverageTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p struct {
		Notes string `json:"notes"`
	}
	_ = json.Unmarshal(params, &p)
	return mcp.JSONResult(map[string]any{"acknowledged": true, "notes": p.Notes})
}

// --- finalize_plan ---

type finalizePlanTool struct {
	st   *RunState
	deps Deps
}

func (t *finalizePlanTool) Name() string { return "finalize_plan" }
func (t *finalizePlanTool) Description() string {
	return "Commit the final plan (intent, selected entities, assumptions, risks) and advance to Building. Rejected if any referenced field does not resolve against a loaded entity."
}
func (t *finalizePlanTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "intent": {
      "type": "object",
      "properties": {
        "metrics": {"type": "array", "items": {"type": "string"}},
        "dimensions": {"type": "array", "items": {"type": "string"}},
        "structured_filters": {"type": "array", "items": {"type": "object"}},
        "filters": {"type": "array", "items": {"type": "string"}},
        "time_range": {"type": "object"},
        "grain": {"type": "string"},
        "compare": {"type": "string"}
      }
    },
    "selected_entities": {"type": "array", "items": {"type": "string"}},
    "required_fields": {"type": "array", "items": {"type": "string"}},
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "risks": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["intent", "selected_entities"]
}`)
}
func (t *finalizePlanTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var fp plan.FinalizedPlan
	if err := json.Unmarshal(params, &fp); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if err := fp.Validate(); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	reg := t.st.registry()
	if err := sql.ValidateSemantics(&fp, reg, t.deps.AllowedSchemas); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	t.st.mu.Lock()
	t.st.Plan = &fp
	t.st.mu.Unlock()

	return mcp.JSONResult(map[string]any{"accepted": true})
}

// --- finalize_no_data ---

type finalizeNoDataTool struct {
	st   *RunState
	deps Deps
}

func (t *finalizeNoDataTool) Name() string { return "finalize_no_data" }
func (t *finalizeNoDataTool) Description() string {
	return "End the request because the question is out of scope for the loaded entities or is a schema inquiry answerable directly."
}
func (t *finalizeNoDataTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string"}},"required":["reason"]}`)
}
func (t *finalizeNoDataTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	t.st.mu.Lock()
	t.st.NoDataReason = p.Reason
	t.st.mu.Unlock()
	return mcp.JSONResult(map[string]any{"acknowledged": true})
}

// --- clarify_intent ---

type clarifyIntentTool struct {
	st   *RunState
	deps Deps
}

func (t *clarifyIntentTool) Name() string { return "clarify_intent" }
func (t *clarifyIntentTool) Description() string {
	return "Pause the request and return a clarifying question to the user instead of guessing at intent."
}
func (t *clarifyIntentTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`)
}
func (t *clarifyIntentTool) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	t.st.mu.Lock()
	t.st.ClarifyQuestion = p.Question
	t.st.mu.Unlock()
	return mcp.JSONResult(map[string]any{"acknowledged": true})
}
