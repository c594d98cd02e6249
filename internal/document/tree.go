package document

import "strings"

// Article is the root of one outline document.
type Article struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Nodes []*Node `json:"nodes"`
}

// Node is one outline entry: an optional heading, body paragraphs, and nested children.
type Node struct {
	ID       string      `json:"id"`
	Heading  string      `json:"heading,omitempty"`
	Body     []Paragraph `json:"body,omitempty"`
	Children []*Node     `json:"children,omitempty"`
	// ProcessedAttachments lists attachment ids whose transcript has already been
	// inserted into this node. It never renders; it exists so a re-applied patch
	// can detect prior work.
	ProcessedAttachments []string `json:"processedAttachments,omitempty"`
}

// Paragraph is one block of inline spans.
type Paragraph struct {
	Spans []Span `json:"spans"`
}

// Span is a run of text with an optional link mark.
type Span struct {
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// NewTextParagraph builds a paragraph holding a single unlinked text span.
func NewTextParagraph(text string) Paragraph {
	return Paragraph{Spans: []Span{{Text: text}}}
}

// PlainText concatenates the paragraph's span texts.
func (p Paragraph) PlainText() string {
	var b strings.Builder
	for _, s := range p.Spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// FindNode walks the forest depth-first and returns the node with the given id,
// or nil when no such node exists.
func FindNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.ID == id {
			return n
		}
		if found := FindNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// HasProcessed reports whether the node's marker list contains the attachment id.
func (n *Node) HasProcessed(attachmentID string) bool {
	for _, id := range n.ProcessedAttachments {
		if id == attachmentID {
			return true
		}
	}
	return false
}
