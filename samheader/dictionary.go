package samheader

import (
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

// reconcileDictionary returns the sequence dictionary samheader.Merge should
// install in the merged header. When mergeDictionaries is false, every
// header's dictionary must match the first's exactly; when true,
// dictionaries are merged by name via a topological sort over the
// precedence edges each input's order implies, failing if any two inputs
// disagree on the relative order of a pair of names they share.
func reconcileDictionary(headers []*sam.Header, mergeDictionaries bool) ([]*sam.Reference, bool, error) {
	if !mergeDictionaries {
		first := headers[0].Refs()
		for _, h := range headers[1:] {
			if !sameDictionary(first, h.Refs()) {
				return nil, false, fault.Errorf(fault.ContractViolation,
					"samheader: sequence dictionaries differ; pass mergeDictionaries to merge them by name")
			}
		}
		return cloneRefs(first), false, nil
	}

	refs, err := mergeDictionariesTopologically(headers)
	if err != nil {
		return nil, false, err
	}
	return refs, true, nil
}

func sameDictionary(a, b []*sam.Reference) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name() != b[i].Name() || a[i].Len() != b[i].Len() {
			return false
		}
	}
	return true
}

func cloneRefs(refs []*sam.Reference) []*sam.Reference {
	out := make([]*sam.Reference, len(refs))
	for i, r := range refs {
		out[i] = r.Clone()
	}
	return out
}

// mergeDictionariesTopologically builds a precedence graph from every
// input's reference order (edge name[i] -> name[i+1]) and topologically
// sorts it, preferring the first-seen name among those currently ready so
// that the result matches a single input's order whenever all inputs agree.
// A cycle (detected as "no node became ready this pass") means two inputs
// disagree on the relative order of some shared pair of names.
func mergeDictionariesTopologically(headers []*sam.Header) ([]*sam.Reference, error) {
	order := []string{}
	repr := map[string]*sam.Reference{}
	edges := map[string]map[string]bool{}
	indeg := map[string]int{}

	ensure := func(name string) {
		if _, ok := repr[name]; !ok {
			order = append(order, name)
			repr[name] = nil
			edges[name] = map[string]bool{}
			indeg[name] = 0
		}
	}

	for _, h := range headers {
		refs := h.Refs()
		for _, r := range refs {
			ensure(r.Name())
			if repr[r.Name()] == nil {
				repr[r.Name()] = r
			}
		}
		for i := 0; i+1 < len(refs); i++ {
			a, b := refs[i].Name(), refs[i+1].Name()
			if a == b {
				continue
			}
			if !edges[a][b] {
				edges[a][b] = true
				indeg[b]++
			}
		}
	}

	remaining := indeg
	done := map[string]bool{}
	var sorted []string
	for len(sorted) < len(order) {
		progressed := false
		for _, name := range order {
			if done[name] || remaining[name] != 0 {
				continue
			}
			done[name] = true
			sorted = append(sorted, name)
			progressed = true
			for b := range edges[name] {
				remaining[b]--
			}
		}
		if !progressed {
			return nil, fault.Errorf(fault.ContractViolation,
				"samheader: sequence dictionaries have conflicting relative order")
		}
	}

	refs := make([]*sam.Reference, len(sorted))
	for i, name := range sorted {
		refs[i] = repr[name].Clone()
	}
	return refs, nil
}
