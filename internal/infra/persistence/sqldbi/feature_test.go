package sqldbi

import (
	"context"
	"testing"

	"biostore/pkg/domain"
)

func TestAnnotationTableFeatureTree(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	fd := d.FeatureDbi()
	seq := newSequence(t, d, "chr", "/", "ACGTACGTAC")
	table := domain.AnnotationTable{Object: domain.Object{Name: "genes"}}
	if err := fd.CreateAnnotationTableObject(ctx, &table, "/"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if table.RootFeatureID.IsZero() {
		t.Fatalf("expected a root feature")
	}
	gene := domain.Feature{
		Name: "geneA", Type: "gene", ParentID: table.RootFeatureID, SequenceID: seq.ID,
		Location: domain.FeatureLocation{Region: domain.Region{Start: 1, Length: 6}, Strand: domain.StrandDirect},
	}
	if err := fd.CreateFeature(ctx, &gene, []domain.FeatureKey{{Name: "note", Value: "first"}, {Name: "db_xref", Value: "X:1"}}); err != nil {
		t.Fatalf("create gene: %v", err)
	}
	if gene.RootID != table.RootFeatureID {
		t.Fatalf("root not inherited: %s vs %s", gene.RootID, table.RootFeatureID)
	}
	exon := domain.Feature{Name: "exon1", ParentID: gene.ID}
	if err := fd.CreateFeature(ctx, &exon, nil); err != nil {
		t.Fatalf("create exon: %v", err)
	}

	stored, err := fd.GetAnnotationTableObject(ctx, table.ID)
	if err != nil || stored.RootFeatureID != table.RootFeatureID {
		t.Fatalf("table did not round trip: %+v (%v)", stored, err)
	}
	got, err := fd.GetFeature(ctx, gene.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Location != gene.Location || got.SequenceID != seq.ID || got.Class != domain.FeatureClassAnnotation {
		t.Fatalf("feature did not round trip: %+v", got)
	}
	keys, _ := fd.GetFeatureKeys(ctx, gene.ID)
	if len(keys) != 2 || keys[0].Name != "note" || keys[1].Value != "X:1" {
		t.Fatalf("unexpected keys %+v", keys)
	}
	all, _ := fd.GetFeaturesByRoot(ctx, table.RootFeatureID)
	if len(all) != 2 {
		t.Fatalf("expected 2 features below the root, got %d", len(all))
	}
	if n, _ := fd.CountFeatures(ctx, table.RootFeatureID); n != 3 {
		t.Fatalf("expected 3 features including the root, got %d", n)
	}
	subs, _ := fd.GetSubFeatures(ctx, gene.ID)
	if len(subs) != 1 || subs[0].ID != exon.ID {
		t.Fatalf("unexpected sub features %+v", subs)
	}

	if err := fd.RemoveFeature(ctx, gene.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = fd.GetFeature(ctx, exon.ID)
	mustErrIs(t, err, domain.ErrNotFound)

	if err := d.ObjectDbi().RemoveObject(ctx, table.ID); err != nil {
		t.Fatalf("remove table: %v", err)
	}
	_, err = fd.GetFeature(ctx, table.RootFeatureID)
	mustErrIs(t, err, domain.ErrNotFound)
}

func TestCreateFeatureUnknownParent(t *testing.T) {
	d := openSQLite(t, nil)
	f := domain.Feature{Name: "orphan", ParentID: domain.NewEntityID(404, domain.TypeFeature)}
	mustErrIs(t, d.FeatureDbi().CreateFeature(context.Background(), &f, nil), domain.ErrNotFound)
}
