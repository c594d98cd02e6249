package document

import (
	"errors"
	"fmt"
	"strings"

	"voicescribe/internal/common"
)

// ErrNodeNotFound signals that the patch target node no longer exists in the
// document. It is the only non-retryable pipeline failure.
var ErrNodeNotFound = errors.New("target node not found")

// Attachment carries the identity of the audio attachment whose transcript is
// being inserted, plus everything needed to locate its reference paragraph.
type Attachment struct {
	ID          string
	StoredRef   string
	DisplayName string
}

// RefForms returns every link target form under which the attachment may be
// referenced inside a document: direct storage path, cloud proxy path, and the
// legacy public path.
func (a Attachment) RefForms() []string {
	return []string{
		common.RefPrefixFiles + a.StoredRef,
		common.RefPrefixCloudProxy + a.StoredRef,
		common.RefPrefixLegacyPublic + a.StoredRef,
	}
}

// PlaceholderText is the visible text of the temporary paragraph a client may
// insert while the transcript is still pending.
func PlaceholderText(attachmentID string) string {
	return "[transcribing:" + attachmentID + "]"
}

// LegacyMarkerText is the old-format inline idempotency marker. Current
// documents use the node-level ProcessedAttachments list instead.
func LegacyMarkerText(attachmentID string) string {
	return "[transcript:" + attachmentID + "]"
}

// HasMarker reports whether the node already carries the idempotency marker
// for the attachment, in either the current list form or the legacy inline form.
func HasMarker(n *Node, attachmentID string) bool {
	if n == nil {
		return false
	}
	if n.HasProcessed(attachmentID) {
		return true
	}
	legacy := LegacyMarkerText(attachmentID)
	for _, p := range n.Body {
		if strings.TrimSpace(p.PlainText()) == legacy {
			return true
		}
	}
	return false
}

// Apply inserts the transcript text into the target node, immediately after the
// paragraph referencing the attachment, exactly once. Re-applying for an
// attachment whose marker is already present changes no visible text. The
// returned error is ErrNodeNotFound when the target node is gone.
func Apply(art *Article, nodeID string, att Attachment, text string) error {
	if art == nil {
		return fmt.Errorf("%w: empty document", ErrNodeNotFound)
	}
	node := FindNode(art.Nodes, nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	// Decide idempotency before dropping legacy markers, then clean up
	// placeholders and old-format markers wherever they sit.
	already := HasMarker(node, att.ID)
	node.Body = removeMarkerParagraphs(node.Body, att.ID)

	if !already {
		idx := locateReference(node.Body, att)
		node.Body = insertParagraphs(node.Body, idx+1, splitParagraphs(text))
	}
	if !node.HasProcessed(att.ID) {
		node.ProcessedAttachments = append(node.ProcessedAttachments, att.ID)
	}
	return nil
}

// locateReference finds the paragraph referencing the attachment: first by a
// link matching one of the known reference forms, then by display name text,
// then the last paragraph. Returns -1 for an empty body (insert at the front).
func locateReference(body []Paragraph, att Attachment) int {
	forms := att.RefForms()
	for i, p := range body {
		for _, s := range p.Spans {
			if s.Link == "" {
				continue
			}
			for _, f := range forms {
				if s.Link == f || strings.HasSuffix(s.Link, f) {
					return i
				}
			}
		}
	}
	if name := strings.TrimSpace(att.DisplayName); name != "" {
		for i, p := range body {
			if strings.Contains(p.PlainText(), name) {
				return i
			}
		}
	}
	return len(body) - 1
}

func removeMarkerParagraphs(body []Paragraph, attachmentID string) []Paragraph {
	placeholder := PlaceholderText(attachmentID)
	legacy := LegacyMarkerText(attachmentID)
	out := body[:0]
	for _, p := range body {
		text := strings.TrimSpace(p.PlainText())
		if text == placeholder || text == legacy {
			continue
		}
		out = append(out, p)
	}
	return out
}

func insertParagraphs(body []Paragraph, at int, paras []Paragraph) []Paragraph {
	if at < 0 {
		at = 0
	}
	if at > len(body) {
		at = len(body)
	}
	out := make([]Paragraph, 0, len(body)+len(paras))
	out = append(out, body[:at]...)
	out = append(out, paras...)
	out = append(out, body[at:]...)
	return out
}

// splitParagraphs turns cleaned transcript text into paragraphs, one per
// non-empty line.
func splitParagraphs(text string) []Paragraph {
	var paras []Paragraph
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paras = append(paras, NewTextParagraph(line))
	}
	return paras
}
