package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDocumentRecordMergeKeepsUnsetFields(t *testing.T) {
	t.Parallel()

	fetched := time.Unix(100, 0).UTC()
	base := DocumentRecord{
		URL:       "https://example.com",
		Content:   Ptr("Acme was founded by Jane."),
		FetchedAt: &fetched,
	}
	frag := &GraphFragment{Nodes: []Node{{ID: "Acme", Label: "Organization"}}}

	merged := base.Merge(DocumentRecord{URL: "https://example.com", Entities: frag})

	require.Equal(t, "Acme was founded by Jane.", *merged.Content)
	require.Equal(t, fetched, *merged.FetchedAt)
	require.Equal(t, frag, merged.Entities)
	require.Nil(t, base.Entities, "merge must not mutate the receiver")
}

func TestDocumentRecordMergeOverwritesSetFields(t *testing.T) {
	t.Parallel()

	base := DocumentRecord{URL: "u1", Content: Ptr("old")}
	merged := base.Merge(DocumentRecord{URL: "u1", Content: Ptr("new")})
	require.Equal(t, "new", *merged.Content)
}

func TestDocumentRecordMergeFillsURLOnEmptyShell(t *testing.T) {
	t.Parallel()

	merged := DocumentRecord{}.Merge(DocumentRecord{URL: "u1", Content: Ptr("text")})
	require.Equal(t, "u1", merged.URL)
	require.True(t, merged.HasContent())
}

func TestDocumentRecordPredicates(t *testing.T) {
	t.Parallel()

	require.False(t, DocumentRecord{}.HasContent())
	require.False(t, DocumentRecord{Content: Ptr("")}.HasContent())
	require.True(t, DocumentRecord{Content: Ptr("x")}.HasContent())

	require.False(t, DocumentRecord{}.HasEntities())
	require.True(t, DocumentRecord{Entities: &GraphFragment{}}.HasEntities())
}

func TestDocumentRecordNeedsMerge(t *testing.T) {
	t.Parallel()

	earlier := time.Unix(10, 0)
	later := time.Unix(20, 0)

	tests := []struct {
		name string
		rec  DocumentRecord
		want bool
	}{
		{name: "no entities", rec: DocumentRecord{}, want: false},
		{name: "never merged", rec: DocumentRecord{Entities: &GraphFragment{}}, want: true},
		{
			name: "merged after extraction",
			rec:  DocumentRecord{Entities: &GraphFragment{}, ExtractedAt: &earlier, MergedAt: &later},
			want: false,
		},
		{
			name: "re-extracted since merge",
			rec:  DocumentRecord{Entities: &GraphFragment{}, ExtractedAt: &later, MergedAt: &earlier},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.rec.NeedsMerge())
		})
	}
}
