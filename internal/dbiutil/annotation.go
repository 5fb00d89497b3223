package dbiutil

import (
	"context"
	"fmt"
	"strings"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// LocationPartType is the feature type of the sub-features that carry the
// extra regions of a multi-region annotation.
const LocationPartType = "location-part"

// ImportAnnotationTable stores anns as a new annotation table named name.
// Groups become group features below the table root; an annotation with
// several regions gets one location-part sub-feature per region.
func ImportAnnotationTable(ctx context.Context, d dbi.Dbi, folder, name string, anns []domain.AnnotationData) (domain.AnnotationTable, error) {
	table := domain.AnnotationTable{Object: domain.Object{Name: name}}
	err := d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		fdbi := d.FeatureDbi()
		if err := fdbi.CreateAnnotationTableObject(ctx, &table, folder); err != nil {
			return err
		}
		groups := map[string]domain.EntityID{"": table.RootFeatureID}
		for _, a := range anns {
			parent, err := ensureGroup(ctx, fdbi, table.RootFeatureID, groups, strings.Trim(a.Group, "/"))
			if err != nil {
				return err
			}
			if err := importAnnotation(ctx, fdbi, table.RootFeatureID, parent, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.AnnotationTable{}, fmt.Errorf("import annotation table %q: %w", name, err)
	}
	return table, nil
}

func ensureGroup(ctx context.Context, fdbi dbi.FeatureDbi, root domain.EntityID, groups map[string]domain.EntityID, path string) (domain.EntityID, error) {
	if id, ok := groups[path]; ok {
		return id, nil
	}
	parentPath, name := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		parentPath, name = path[:i], path[i+1:]
	}
	parent, err := ensureGroup(ctx, fdbi, root, groups, parentPath)
	if err != nil {
		return domain.EntityID{}, err
	}
	g := domain.Feature{Class: domain.FeatureClassGroup, Name: name, ParentID: parent, RootID: root}
	if err := fdbi.CreateFeature(ctx, &g, nil); err != nil {
		return domain.EntityID{}, err
	}
	groups[path] = g.ID
	return g.ID, nil
}

func importAnnotation(ctx context.Context, fdbi dbi.FeatureDbi, root, parent domain.EntityID, a domain.AnnotationData) error {
	f := domain.Feature{
		Class:    domain.FeatureClassAnnotation,
		Type:     a.Type,
		Name:     a.Name,
		ParentID: parent,
		RootID:   root,
		Location: domain.FeatureLocation{Region: boundingRegion(a.Regions), Strand: a.Strand},
	}
	if err := fdbi.CreateFeature(ctx, &f, a.Qualifiers); err != nil {
		return err
	}
	if len(a.Regions) < 2 {
		return nil
	}
	for _, r := range a.Regions {
		part := domain.Feature{
			Class:    domain.FeatureClassAnnotation,
			Type:     LocationPartType,
			Name:     a.Name,
			ParentID: f.ID,
			RootID:   root,
			Location: domain.FeatureLocation{Region: r, Strand: a.Strand},
		}
		if err := fdbi.CreateFeature(ctx, &part, nil); err != nil {
			return err
		}
	}
	return nil
}

func boundingRegion(regions []domain.Region) domain.Region {
	if len(regions) == 0 {
		return domain.Region{}
	}
	start, end := regions[0].Start, regions[0].End()
	for _, r := range regions[1:] {
		start = min(start, r.Start)
		end = max(end, r.End())
	}
	return domain.Region{Start: start, Length: end - start}
}

// ExportAnnotationTable reads a stored annotation table back into values,
// in creation order.
func ExportAnnotationTable(ctx context.Context, d dbi.Dbi, id domain.EntityID) (string, []domain.AnnotationData, error) {
	fdbi := d.FeatureDbi()
	table, err := fdbi.GetAnnotationTableObject(ctx, id)
	if err != nil {
		return "", nil, err
	}
	features, err := fdbi.GetFeaturesByRoot(ctx, table.RootFeatureID)
	if err != nil {
		return "", nil, err
	}
	groupNames := make(map[domain.EntityID]domain.Feature)
	parts := make(map[domain.EntityID][]domain.Region)
	for _, f := range features {
		switch {
		case f.Class == domain.FeatureClassGroup:
			groupNames[f.ID] = f
		case f.Type == LocationPartType:
			parts[f.ParentID] = append(parts[f.ParentID], f.Location.Region)
		}
	}
	var out []domain.AnnotationData
	for _, f := range features {
		if f.Class != domain.FeatureClassAnnotation || f.Type == LocationPartType {
			continue
		}
		keys, err := fdbi.GetFeatureKeys(ctx, f.ID)
		if err != nil {
			return "", nil, err
		}
		regions := parts[f.ID]
		if regions == nil && f.Location.Region != (domain.Region{}) {
			regions = []domain.Region{f.Location.Region}
		}
		out = append(out, domain.AnnotationData{
			Name:       f.Name,
			Type:       f.Type,
			Regions:    regions,
			Strand:     f.Location.Strand,
			Qualifiers: keys,
			Group:      groupPath(groupNames, table.RootFeatureID, f.ParentID),
		})
	}
	return table.Name, out, nil
}

func groupPath(groups map[domain.EntityID]domain.Feature, root, id domain.EntityID) string {
	var segments []string
	for id != root {
		g, ok := groups[id]
		if !ok {
			break
		}
		segments = append(segments, g.Name)
		id = g.ParentID
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/")
}

// CloneAnnotationTable copies annotation table id of src into folder of dst.
func CloneAnnotationTable(ctx context.Context, src dbi.Dbi, id domain.EntityID, dst dbi.Dbi, folder string) (domain.AnnotationTable, error) {
	name, anns, err := ExportAnnotationTable(ctx, src, id)
	if err != nil {
		return domain.AnnotationTable{}, err
	}
	return ImportAnnotationTable(ctx, dst, folder, name, anns)
}
