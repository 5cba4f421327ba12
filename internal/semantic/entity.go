// Package semantic loads and validates the semantic layer: entities,
// their dimensions, measures, metrics and joins, plus the top-level
// catalog used for keyword recall during planning.
package semantic

import "fmt"

// MeasureType enumerates the supported aggregation recipes.
type MeasureType string

const (
	MeasureCount         MeasureType = "count"
	MeasureCountDistinct MeasureType = "count_distinct"
	MeasureSum           MeasureType = "sum"
	MeasureAvg           MeasureType = "avg"
	MeasureMin           MeasureType = "min"
	MeasureMax           MeasureType = "max"
)

// Relationship enumerates the supported join cardinalities.
type Relationship string

const (
	OneToOne   Relationship = "one_to_one"
	OneToMany  Relationship = "one_to_many"
	ManyToOne  Relationship = "many_to_one"
	ManyToMany Relationship = "many_to_many"
)

// Dimension is a named, typed column projection on an entity.
type Dimension struct {
	Name        string   `yaml:"name"`
	SQL         string   `yaml:"sql"`
	Type        string   `yaml:"type"`
	Aliases     []string `yaml:"aliases,omitempty"`
	PrimaryKey  bool     `yaml:"primary_key,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// TimeDimension is a Dimension typed as a time anchor.
type TimeDimension struct {
	Dimension `yaml:",inline"`
}

// Measure is a named aggregation recipe.
type Measure struct {
	Name string      `yaml:"name"`
	Type MeasureType `yaml:"type"`
	SQL  string      `yaml:"sql,omitempty"`
}

// MetricFilter is a predicate-style filter attached to a metric.
type MetricFilter struct {
	Field    string   `yaml:"field"`
	Operator string   `yaml:"operator"`
	Values   []string `yaml:"values"`
}

// MetricSource describes which measure a metric wraps and its time anchor.
type MetricSource struct {
	Measure    string `yaml:"measure"`
	AnchorDate string `yaml:"anchor_date"`
}

// Metric is a named, documented wrapper around a single measure.
type Metric struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"` // always "atomic" today
	Source      MetricSource   `yaml:"source"`
	Filters     []MetricFilter `yaml:"filters,omitempty"`
	Description string         `yaml:"description,omitempty"`
}

// Join is an outgoing edge to another entity.
type Join struct {
	TargetEntity string       `yaml:"target_entity"`
	Relationship Relationship `yaml:"relationship"`
	FromField    string       `yaml:"from_field"`
	ToField      string       `yaml:"to_field"`
}

// Entity describes a single analytical table and everything the
// semantic layer needs to compose SQL against it.
type Entity struct {
	Name           string          `yaml:"name"`
	Table          string          `yaml:"table"`
	Grain          string          `yaml:"grain"`
	Description    string          `yaml:"description,omitempty"`
	Aliases        []string        `yaml:"aliases,omitempty"`
	Dimensions     []Dimension     `yaml:"dimensions,omitempty"`
	TimeDimensions []TimeDimension `yaml:"time_dimensions,omitempty"`
	Measures       []Measure       `yaml:"measures,omitempty"`
	Metrics        []Metric        `yaml:"metrics,omitempty"`
	Joins          []Join          `yaml:"joins,omitempty"`
	CommonFilters  []MetricFilter  `yaml:"common_filters,omitempty"`

	// Derived indexes, built by build() after unmarshal. Never serialized.
	dimByName    map[string]*Dimension
	measureByName map[string]*Measure
	metricByName map[string]*Metric
	aliasToName  map[string]string
	nameToAlias  map[string][]string
}

// Build populates the derived indexes and validates invariants. Exported
// for callers that construct entities programmatically (tests, and any
// future non-YAML descriptor source); descriptorFile calls it via build.
func (e *Entity) Build() error {
	return e.build()
}

// build populates the derived indexes and must be called exactly once
// after an Entity is unmarshaled, before it is cached or used.
func (e *Entity) build() error {
	e.dimByName = make(map[string]*Dimension)
	e.measureByName = make(map[string]*Measure)
	e.metricByName = make(map[string]*Metric)
	e.aliasToName = make(map[string]string)
	e.nameToAlias = make(map[string][]string)

	for i := range e.Dimensions {
		d := &e.Dimensions[i]
		if err := e.indexField(d.Name, d.Aliases); err != nil {
			return err
		}
		e.dimByName[d.Name] = d
	}
	for i := range e.TimeDimensions {
		d := &e.TimeDimensions[i].Dimension
		if err := e.indexField(d.Name, d.Aliases); err != nil {
			return err
		}
		e.dimByName[d.Name] = d
	}
	for i := range e.Measures {
		m := &e.Measures[i]
		if m.Type != MeasureCount && m.SQL == "" {
			return fmt.Errorf("%w: entity %q measure %q of type %q requires sql", ErrDescriptor, e.Name, m.Name, m.Type)
		}
		e.measureByName[m.Name] = m
	}
	for i := range e.Metrics {
		m := &e.Metrics[i]
		e.metricByName[m.Name] = m
	}

	return e.validateInvariants()
}

func (e *Entity) indexField(name string, aliases []string) error {
	if existing, ok := e.aliasToName[name]; ok && existing != name {
		return fmt.Errorf("%w: entity %q field %q collides with alias of %q", ErrDescriptor, e.Name, name, existing)
	}
	e.aliasToName[name] = name
	for _, a := range aliases {
		if existing, ok := e.aliasToName[a]; ok && existing != name {
			return fmt.Errorf("%w: entity %q alias %q already maps to %q", ErrDescriptor, e.Name, a, existing)
		}
		e.aliasToName[a] = name
	}
	e.nameToAlias[name] = aliases
	return nil
}

// validateInvariants enforces the cross-field rules from the data model:
// join locality and metric source existence.
func (e *Entity) validateInvariants() error {
	for _, j := range e.Joins {
		if _, ok := e.dimByName[j.FromField]; !ok {
			if canon, ok := e.aliasToName[j.FromField]; !ok || e.dimByName[canon] == nil {
				return fmt.Errorf("%w: entity %q join to %q references unknown local field %q", ErrDescriptor, e.Name, j.TargetEntity, j.FromField)
			}
		}
	}
	for _, m := range e.Metrics {
		if _, ok := e.measureByName[m.Source.Measure]; !ok {
			return fmt.Errorf("%w: entity %q metric %q references unknown measure %q", ErrDescriptor, e.Name, m.Name, m.Source.Measure)
		}
		found := false
		for _, td := range e.TimeDimensions {
			if td.Name == m.Source.AnchorDate {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: entity %q metric %q anchor_date %q is not a time dimension", ErrDescriptor, e.Name, m.Name, m.Source.AnchorDate)
		}
	}
	return nil
}

// ResolveDimension returns the canonical dimension for a name or alias.
func (e *Entity) ResolveDimension(nameOrAlias string) (*Dimension, bool) {
	canon, ok := e.aliasToName[nameOrAlias]
	if !ok {
		return nil, false
	}
	d, ok := e.dimByName[canon]
	return d, ok
}

// ResolveMeasure returns the measure with the given name.
func (e *Entity) ResolveMeasure(name string) (*Measure, bool) {
	m, ok := e.measureByName[name]
	return m, ok
}

// ResolveMetric returns the metric with the given name.
func (e *Entity) ResolveMetric(name string) (*Metric, bool) {
	m, ok := e.metricByName[name]
	return m, ok
}

// FirstTimeDimension returns the entity's first declared time dimension,
// used as the default anchor for time-range predicates.
func (e *Entity) FirstTimeDimension() (*Dimension, bool) {
	if len(e.TimeDimensions) == 0 {
		return nil, false
	}
	return &e.TimeDimensions[0].Dimension, true
}
