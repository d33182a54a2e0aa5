package risk

import "sort"

// Registry maps evaluator ids to evaluators.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry returns a registry holding the built-in evaluators.
func NewRegistry() *Registry {
	return &Registry{evaluators: builtinEvaluators()}
}

// Register adds or replaces the evaluator for id.
func (r *Registry) Register(id string, fn Evaluator) {
	r.evaluators[id] = fn
}

// Lookup finds the evaluator for a feature by its evaluator id, then by its
// name.
func (r *Registry) Lookup(f FeatureSpec) (Evaluator, bool) {
	if fn, ok := r.evaluators[f.Evaluator]; ok {
		return fn, true
	}
	fn, ok := r.evaluators[f.Name]
	return fn, ok
}

// IDs returns the registered evaluator ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.evaluators))
	for id := range r.evaluators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unknown returns the ids referenced by rs that no evaluator serves.
func (r *Registry) Unknown(rs *RuleSet) []string {
	var missing []string
	for _, f := range rs.Features {
		if _, ok := r.Lookup(f); !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
