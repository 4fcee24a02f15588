// Package narrator turns an attributed plan tree into an ordered, bottom-up
// narrative: one entry per operator in execution order, with connective
// entries between the inputs of multi-input operators.
package narrator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mickamy/planwise/internal/analyzer"
	"github.com/mickamy/planwise/internal/model"
)

// NoPlanSentence is the single entry produced when the plan source returned nothing.
const NoPlanSentence = "No plan returned"

// Attribute is one labelled description shown next to a sentence.
type Attribute struct {
	Label string
	Value string
}

// Attributes keeps labels in presentation order.
type Attributes []Attribute

// Get returns the value stored for label.
func (a Attributes) Get(label string) (string, bool) {
	for _, attr := range a {
		if attr.Label == label {
			return attr.Value, true
		}
	}
	return "", false
}

// Map returns the attributes as a plain map.
func (a Attributes) Map() map[string]string {
	out := make(map[string]string, len(a))
	for _, attr := range a {
		out[attr.Label] = attr.Value
	}
	return out
}

// Entry is one step of the narrative. Connective entries have no attributes
// and no node.
type Entry struct {
	Sentence   string
	Attributes Attributes
	Node       *model.PlanNode
}

// Connective reports whether the entry only links sibling inputs.
func (e Entry) Connective() bool {
	return e.Node == nil
}

// ExplainFunc describes a single operator: its sentence and operator-specific
// attributes. Generic attributes are appended by the Narrator.
type ExplainFunc func(node *model.PlanNode) (string, Attributes)

// Option customises a Narrator.
type Option func(*Narrator)

// WithUnsupportedHook registers a callback invoked for every operator narrated
// by the generic fallback.
func WithUnsupportedHook(fn func(nodeType string)) Option {
	return func(n *Narrator) {
		n.onUnsupported = fn
	}
}

// Narrator maps operator kinds to explanation functions.
type Narrator struct {
	logger        log.Logger
	handlers      map[string]ExplainFunc
	onUnsupported func(nodeType string)
}

// New returns a Narrator with every built-in operator registered.
func New(logger log.Logger, opts ...Option) *Narrator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	n := &Narrator{
		logger:   log.With(logger, "component", "narrator"),
		handlers: map[string]ExplainFunc{},
	}
	for kind, fn := range builtin {
		n.handlers[kind] = fn
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register installs or replaces the explanation for an operator kind.
func (n *Narrator) Register(kind string, fn ExplainFunc) {
	n.handlers[kind] = fn
}

// Supports reports whether kind has a dedicated explanation.
func (n *Narrator) Supports(kind string) bool {
	_, ok := n.handlers[kind]
	return ok
}

// ExplainSelf describes a single node without visiting its children.
func (n *Narrator) ExplainSelf(node *model.PlanNode) Entry {
	if !node.Attributed() {
		analyzer.Attribute(node)
	}

	fn, ok := n.handlers[node.NodeType]
	if !ok {
		level.Warn(n.logger).Log("msg", "unsupported operator", "node_type", node.NodeType, "node", node.ID)
		if n.onUnsupported != nil {
			n.onUnsupported(node.NodeType)
		}
		fn = explainGeneric
	}

	sentence, attrs := fn(node)
	return Entry{
		Sentence:   sentence,
		Attributes: append(attrs, genericAttributes(node)...),
		Node:       node,
	}
}

// Explain narrates the subtree bottom-up: children first, left to right, then
// the node itself.
func (n *Narrator) Explain(node *model.PlanNode) []Entry {
	if node == nil {
		return nil
	}
	if !node.Attributed() {
		analyzer.Attribute(node)
	}

	var out []Entry
	for i, child := range node.Children {
		out = append(out, n.Explain(child)...)
		if remaining := len(node.Children) - i - 1; remaining > 0 {
			out = append(out, Entry{Sentence: connective(node.NodeType, remaining)})
		}
	}
	return append(out, n.ExplainSelf(node))
}

// Narrate explains the whole tree and numbers the entries for display; the
// final entry is introduced with "Finally,".
func (n *Narrator) Narrate(root *model.PlanNode) []Entry {
	if root == nil {
		return NoPlan()
	}
	entries := n.Explain(root)
	last := len(entries) - 1
	for i := range entries {
		sentence := entries[i].Sentence
		if i == last {
			sentence = "Finally, " + lowerFirst(sentence)
		}
		entries[i].Sentence = fmt.Sprintf("%d. %s", i+1, sentence)
	}
	level.Debug(n.logger).Log("msg", "narrated plan", "entries", len(entries))
	return entries
}

// NoPlan is the narrative used when the plan source returned no plan.
func NoPlan() []Entry {
	return []Entry{{Sentence: NoPlanSentence}}
}

func connective(kind string, remaining int) string {
	inputs := "input"
	if remaining > 1 {
		inputs = "inputs"
	}
	return fmt.Sprintf("The above output is then passed into a %s operation as an input. "+
		"However, before we can process the %s operation, we still have to process %d more intermediate %s, "+
		"discussed immediately below.", kind, kind, remaining, inputs)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func capitalize(s string) string {
	s = strings.ToLower(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
