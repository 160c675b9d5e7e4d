package normalize

import (
	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
)

// Gap is a reference that resolved to neither an included object nor a field
// error. The API occasionally omits both; gaps are reported, never fatal.
type Gap struct {
	Expansion string
	ID        string
}

// Result is the resolved view of one entity.
type Result struct {
	Includes map[string][]page.Entity
	Errors   []page.FieldError
	Gaps     []Gap
}

// Normalizer resolves cross references with a fixed rule table.
type Normalizer struct {
	rules   []Rule
	lookups map[string]Lookup
}

// New validates the rule table and returns a Normalizer.
func New(rules []Rule, lookups map[string]Lookup) (*Normalizer, error) {
	if err := validateRules(rules, lookups, 0); err != nil {
		return nil, err
	}
	return &Normalizer{rules: rules, lookups: lookups}, nil
}

// Default returns a Normalizer for DefaultRules and DefaultLookups.
func Default() *Normalizer {
	n, err := New(DefaultRules, DefaultLookups)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize writes the includes and errors keys on every primary entity of p
// and returns all gaps found. Nothing is shared between pages.
func (n *Normalizer) Normalize(p *page.Page) []Gap {
	if p == nil || len(p.Data) == 0 {
		return nil
	}

	idx := n.buildIndex(p)
	var gaps []Gap
	for _, e := range p.Data {
		r := n.resolve(e, idx)
		e[IncludesKey] = r.Includes
		e[ErrorsKey] = r.Errors
		gaps = append(gaps, r.Gaps...)
	}
	return gaps
}

// Resolve computes the includes and errors of e against the page p without
// modifying e.
func (n *Normalizer) Resolve(e page.Entity, p *page.Page) Result {
	return n.resolve(e, n.buildIndex(p))
}

// objectRef identifies an included object by its position in its collection,
// so the same object reached through two lookups is stored once.
type objectRef struct {
	collection string
	pos        int
}

type indexed struct {
	ref objectRef
	obj page.Entity
}

type pageIndex struct {
	objects map[string]map[string]indexed
	errors  map[string]map[string]page.FieldError
}

func (n *Normalizer) buildIndex(p *page.Page) *pageIndex {
	idx := &pageIndex{
		objects: make(map[string]map[string]indexed, len(n.lookups)),
		errors:  make(map[string]map[string]page.FieldError),
	}

	for name, l := range n.lookups {
		byKey := make(map[string]indexed)
		for pos, obj := range p.Includes[l.Collection] {
			key, ok := obj.String(l.Key)
			if !ok {
				continue
			}
			byKey[key] = indexed{ref: objectRef{collection: l.Collection, pos: pos}, obj: obj}
		}
		idx.objects[name] = byKey
	}

	for _, fe := range p.Errors {
		byValue, ok := idx.errors[fe.Parameter]
		if !ok {
			byValue = make(map[string]page.FieldError)
			idx.errors[fe.Parameter] = byValue
		}
		byValue[fe.Value] = fe
	}

	return idx
}

type bucket struct {
	seen  map[objectRef]struct{}
	items []page.Entity
}

type accumulator struct {
	buckets    map[string]*bucket
	errors     []page.FieldError
	seenErrors map[[2]string]struct{}
	gaps       []Gap
}

func (a *accumulator) bucket(name string) *bucket {
	b, ok := a.buckets[name]
	if !ok {
		b = &bucket{seen: make(map[objectRef]struct{})}
		a.buckets[name] = b
	}
	return b
}

func (n *Normalizer) resolve(e page.Entity, idx *pageIndex) Result {
	acc := &accumulator{
		buckets:    make(map[string]*bucket),
		seenErrors: make(map[[2]string]struct{}),
	}

	for _, rule := range n.rules {
		n.apply(e, rule, idx, acc, 0)
	}

	includes := make(map[string][]page.Entity, len(acc.buckets))
	for name, b := range acc.buckets {
		if len(b.items) > 0 {
			includes[name] = b.items
		}
	}

	errs := acc.errors
	if errs == nil {
		errs = []page.FieldError{}
	}

	return Result{Includes: includes, Errors: errs, Gaps: acc.gaps}
}

func (n *Normalizer) apply(obj page.Entity, rule Rule, idx *pageIndex, acc *accumulator, depth int) {
	ids := referenceIDs(obj, rule)
	if len(ids) == 0 {
		return
	}

	dest := acc.bucket(rule.Bucket)
	for _, id := range ids {
		found, ok := idx.objects[rule.Lookup][id]
		if ok {
			if _, dup := dest.seen[found.ref]; !dup {
				dest.seen[found.ref] = struct{}{}
				dest.items = append(dest.items, found.obj)
			}
			if depth < maxChildDepth {
				for _, child := range rule.Children {
					n.apply(found.obj, child, idx, acc, depth+1)
				}
			}
			continue
		}

		if fe, ok := idx.errors[rule.Expansion][id]; ok {
			key := [2]string{rule.Expansion, id}
			if _, dup := acc.seenErrors[key]; !dup {
				acc.seenErrors[key] = struct{}{}
				acc.errors = append(acc.errors, fe)
			}
			continue
		}

		acc.gaps = append(acc.gaps, Gap{Expansion: rule.Expansion, ID: id})
	}
}

// referenceIDs reads the reference id(s) a rule points at on obj.
func referenceIDs(obj page.Entity, rule Rule) []string {
	v, ok := obj.Get(rule.Path)
	if !ok {
		return nil
	}

	if !rule.Multi {
		id, ok := page.IDString(v)
		if !ok {
			return nil
		}
		return []string{id}
	}

	elems, ok := v.([]any)
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(elems))
	for _, elem := range elems {
		if rule.ValuePath != "" {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			elem, ok = page.Entity(m).Get(rule.ValuePath)
			if !ok {
				continue
			}
		}
		if id, ok := page.IDString(elem); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
