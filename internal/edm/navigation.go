package edm

import (
	"github.com/nlstn/go-odata-persist/internal/metadata"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

func associationName(source, navigation string) string {
	return source + "_" + navigation
}

// indexAssociations maps association names to the relationship they come from.
// Types whose description fails are skipped; the failure surfaces when the
// type itself is requested.
func (s *Schema) indexAssociations() {
	s.assocIndex = make(map[string]associationRef)
	for _, name := range s.provider.CandidateTypes() {
		desc, err := s.provider.Describe(name)
		if err != nil {
			continue
		}
		for _, r := range desc.Relationships {
			s.assocIndex[associationName(name, r.Name)] = associationRef{source: name, navigation: r.Name}
		}
	}
}

func (s *Schema) buildAssociation(name string, ref associationRef) (*Association, error) {
	source, err := s.entityType(ref.source)
	if err != nil {
		return nil, err
	}
	rel, ok := source.description.Relationship(ref.navigation)
	if !ok {
		return nil, odataerr.Semantic(odataerr.KeyAssociationNotFound, QualifiedName{s.namespace, name}.String())
	}
	target, err := s.entityType(rel.Target)
	if err != nil {
		return nil, err
	}

	qn := QualifiedName{s.namespace, name}
	from, to := multiplicities(rel)
	if !validPair(rel.Cardinality, from, to) {
		return nil, odataerr.Semantic(odataerr.KeyMultiplicityMismatch, qn.String(), string(from), string(to))
	}
	if !hasJoinColumns(rel) {
		return nil, odataerr.Semantic(odataerr.KeyMissingJoinColumns, qn.String())
	}

	fromRole, toRole := roles(source.Name.Name, target.Name.Name)
	return &Association{
		Name: qn,
		Ends: [2]AssociationEnd{
			{Role: fromRole, Type: source.Name, Multiplicity: from},
			{Role: toRole, Type: target.Name, Multiplicity: to},
		},
		Cardinality: rel.Cardinality,
		Join:        rel,
	}, nil
}

// resolveNavigation validates each relationship bottom-up: target type, then
// association, then the navigation property itself.
func (t *EntityType) resolveNavigation() {
	s := t.schema
	for _, rel := range t.description.Relationships {
		candidate := NavigationCandidate{Name: rel.Name}
		assoc, err := s.association(associationName(t.Name.Name, rel.Name))
		if err != nil {
			candidate.Err = err
			s.logger.Load().Warn("Dropping inconsistent navigation property",
				"type", t.Name.String(), "navigation", rel.Name, "error", err)
			t.candidates = append(t.candidates, candidate)
			continue
		}
		target, err := s.entityType(assoc.Ends[1].Type.Name)
		if err != nil {
			candidate.Err = err
			t.candidates = append(t.candidates, candidate)
			continue
		}
		candidate.Property = &NavigationProperty{
			Name:         rel.Name,
			Source:       t,
			Target:       target,
			Association:  assoc,
			FromRole:     assoc.Ends[0].Role,
			ToRole:       assoc.Ends[1].Role,
			Multiplicity: assoc.Ends[1].Multiplicity,
			Index:        rel.Index,
		}
		t.candidates = append(t.candidates, candidate)
	}
}

// multiplicities returns the source and target end multiplicities.
func multiplicities(rel metadata.RelationshipDescription) (Multiplicity, Multiplicity) {
	switch rel.Cardinality {
	case metadata.OneToOne:
		return MultiplicityOne, MultiplicityZeroOrOne
	case metadata.OneToMany:
		return MultiplicityOne, MultiplicityMany
	case metadata.ManyToOne:
		if rel.Optional {
			return MultiplicityMany, MultiplicityZeroOrOne
		}
		return MultiplicityMany, MultiplicityOne
	case metadata.ManyToMany:
		return MultiplicityMany, MultiplicityMany
	}
	return "", ""
}

func validPair(c metadata.Cardinality, from, to Multiplicity) bool {
	single := func(m Multiplicity) bool { return m == MultiplicityOne || m == MultiplicityZeroOrOne }
	switch c {
	case metadata.OneToOne:
		return single(from) && single(to)
	case metadata.OneToMany:
		return single(from) && to == MultiplicityMany
	case metadata.ManyToOne:
		return from == MultiplicityMany && single(to)
	case metadata.ManyToMany:
		return from == MultiplicityMany && to == MultiplicityMany
	}
	return false
}

func hasJoinColumns(rel metadata.RelationshipDescription) bool {
	if rel.Cardinality == metadata.ManyToMany {
		return rel.JoinTable != "" && len(rel.OwnerJoin) > 0 && len(rel.TargetJoin) > 0
	}
	return len(rel.Columns) > 0
}

// roles names the association ends after their types; a self association
// gets a numbered target role.
func roles(source, target string) (string, string) {
	if source == target {
		return source, target + "1"
	}
	return source, target
}
