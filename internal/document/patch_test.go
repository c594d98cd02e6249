package document

import (
	"context"
	"errors"
	"testing"
)

func sampleArticle() *Article {
	return &Article{
		ID: "doc-1",
		Nodes: []*Node{
			{
				ID:      "root",
				Heading: "Notes",
				Children: []*Node{
					{
						ID:      "target",
						Heading: "Meeting",
						Body: []Paragraph{
							NewTextParagraph("Intro text."),
							{Spans: []Span{{Text: "voice memo", Link: "/files/ref-123"}}},
							NewTextParagraph("Outro text."),
						},
					},
				},
			},
		},
	}
}

func TestFindNode_Nested(t *testing.T) {
	art := sampleArticle()
	if n := FindNode(art.Nodes, "target"); n == nil || n.Heading != "Meeting" {
		t.Fatalf("expected nested node, got %+v", n)
	}
	if n := FindNode(art.Nodes, "missing"); n != nil {
		t.Fatalf("expected nil for unknown id, got %+v", n)
	}
}

func TestApply_InsertsAfterLinkedParagraph(t *testing.T) {
	art := sampleArticle()
	att := Attachment{ID: "att-1", StoredRef: "ref-123", DisplayName: "memo.ogg"}

	if err := Apply(art, "target", att, "Hello world.\nSecond paragraph."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	node := FindNode(art.Nodes, "target")
	if len(node.Body) != 5 {
		t.Fatalf("expected 5 paragraphs, got %d: %+v", len(node.Body), node.Body)
	}
	if got := node.Body[2].PlainText(); got != "Hello world." {
		t.Fatalf("first inserted paragraph misplaced: %q", got)
	}
	if got := node.Body[3].PlainText(); got != "Second paragraph." {
		t.Fatalf("second inserted paragraph misplaced: %q", got)
	}
	if !node.HasProcessed("att-1") {
		t.Fatalf("marker not recorded: %+v", node.ProcessedAttachments)
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	art := sampleArticle()
	att := Attachment{ID: "att-1", StoredRef: "ref-123"}

	if err := Apply(art, "target", att, "Hello world."); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := Apply(art, "target", att, "Hello world."); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	node := FindNode(art.Nodes, "target")
	count := 0
	for _, p := range node.Body {
		if p.PlainText() == "Hello world." {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("transcript inserted %d times, want 1", count)
	}
	if len(node.ProcessedAttachments) != 1 {
		t.Fatalf("marker duplicated: %+v", node.ProcessedAttachments)
	}
}

func TestApply_RemovesPlaceholderAndLegacyMarker(t *testing.T) {
	art := sampleArticle()
	node := FindNode(art.Nodes, "target")
	node.Body = append(node.Body, NewTextParagraph(PlaceholderText("att-1")))
	node.Body = append([]Paragraph{NewTextParagraph(LegacyMarkerText("att-other"))}, node.Body...)

	att := Attachment{ID: "att-1", StoredRef: "ref-123"}
	if err := Apply(art, "target", att, "Transcript."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, p := range node.Body {
		if p.PlainText() == PlaceholderText("att-1") {
			t.Fatalf("placeholder survived patch: %+v", node.Body)
		}
	}
	// Markers for other attachments are left alone.
	if node.Body[0].PlainText() != LegacyMarkerText("att-other") {
		t.Fatalf("foreign legacy marker removed: %+v", node.Body)
	}
}

func TestApply_LegacyMarkerBlocksReinsertion(t *testing.T) {
	art := sampleArticle()
	node := FindNode(art.Nodes, "target")
	node.Body = append(node.Body, NewTextParagraph(LegacyMarkerText("att-1")))

	att := Attachment{ID: "att-1", StoredRef: "ref-123"}
	if err := Apply(art, "target", att, "Transcript."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, p := range node.Body {
		if p.PlainText() == "Transcript." {
			t.Fatalf("legacy marker should have suppressed insertion: %+v", node.Body)
		}
	}
	// The legacy marker migrates into the list form.
	if !node.HasProcessed("att-1") {
		t.Fatalf("legacy marker not migrated: %+v", node.ProcessedAttachments)
	}
	if HasMarker(node, "att-1") == false {
		t.Fatalf("HasMarker should hold after migration")
	}
}

func TestApply_FallsBackToDisplayNameThenLastParagraph(t *testing.T) {
	art := sampleArticle()
	node := FindNode(art.Nodes, "target")
	node.Body = []Paragraph{
		NewTextParagraph("Intro."),
		NewTextParagraph("See attachment memo.ogg here."),
		NewTextParagraph("Outro."),
	}
	att := Attachment{ID: "att-1", StoredRef: "unlinked-ref", DisplayName: "memo.ogg"}
	if err := Apply(art, "target", att, "By name."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := node.Body[2].PlainText(); got != "By name." {
		t.Fatalf("expected insertion after display-name paragraph, body: %+v", node.Body)
	}

	node.Body = []Paragraph{NewTextParagraph("Only paragraph.")}
	att2 := Attachment{ID: "att-2", StoredRef: "none", DisplayName: "absent.ogg"}
	if err := Apply(art, "target", att2, "At end."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := node.Body[len(node.Body)-1].PlainText(); got != "At end." {
		t.Fatalf("expected insertion after last paragraph, body: %+v", node.Body)
	}
}

func TestApply_EmptyBodyInsertsAtFront(t *testing.T) {
	art := &Article{ID: "d", Nodes: []*Node{{ID: "n"}}}
	att := Attachment{ID: "att-1", StoredRef: "r"}
	if err := Apply(art, "n", att, "Text."); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	node := FindNode(art.Nodes, "n")
	if len(node.Body) != 1 || node.Body[0].PlainText() != "Text." {
		t.Fatalf("unexpected body: %+v", node.Body)
	}
}

func TestApply_MissingNodeIsNotFound(t *testing.T) {
	art := sampleArticle()
	err := Apply(art, "deleted-node", Attachment{ID: "att-1"}, "x")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "doc-1", "user-1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	art := sampleArticle()
	if err := store.Save(ctx, "doc-1", "user-1", art); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, meta, err := store.Get(ctx, "doc-1", "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if meta == nil || meta.OwnerID != "user-1" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
	if FindNode(got.Nodes, "target") == nil {
		t.Fatalf("nested node lost in round trip")
	}
}
