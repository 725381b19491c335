package consensus

import "math/rand/v2"

const labelPrefix = "Response "

// LabeledResponse is a stage-1 answer as shown to a ranking model.
type LabeledResponse struct {
	Label string
	Text  string
}

// LabelMapping is a bijection between presentation labels and models,
// created fresh for every request.
type LabelMapping struct {
	labels  []string
	toModel map[string]string
	toLabel map[string]string
}

// Model resolves a label.
func (m *LabelMapping) Model(label string) (string, bool) {
	model, ok := m.toModel[label]
	return model, ok
}

// Label resolves a model.
func (m *LabelMapping) Label(model string) (string, bool) {
	label, ok := m.toLabel[model]
	return label, ok
}

// Labels returns labels in presentation order.
func (m *LabelMapping) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Len is the number of labelled responses.
func (m *LabelMapping) Len() int { return len(m.labels) }

// LabelToModel returns a copy of the label to model map.
func (m *LabelMapping) LabelToModel() map[string]string {
	out := make(map[string]string, len(m.toModel))
	for k, v := range m.toModel {
		out[k] = v
	}
	return out
}

// NewLabelMapping builds a mapping from an explicit label to model map.
// Presentation order is the order of labels.
func NewLabelMapping(labels []string, labelToModel map[string]string) *LabelMapping {
	m := &LabelMapping{
		labels:  append([]string(nil), labels...),
		toModel: make(map[string]string, len(labels)),
		toLabel: make(map[string]string, len(labels)),
	}
	for _, l := range labels {
		model := labelToModel[l]
		m.toModel[l] = model
		m.toLabel[model] = l
	}
	return m
}

// Anonymize labels the successful responses in the order given. Failed
// responses are excluded.
func Anonymize(responses []ModelResponse) (*LabelMapping, []LabeledResponse) {
	return anonymize(Succeeded(responses))
}

// AnonymizeShuffled is Anonymize with the presentation order permuted by
// rng before labels are assigned.
func AnonymizeShuffled(responses []ModelResponse, rng *rand.Rand) (*LabelMapping, []LabeledResponse) {
	ok := Succeeded(responses)
	rng.Shuffle(len(ok), func(i, j int) { ok[i], ok[j] = ok[j], ok[i] })
	return anonymize(ok)
}

func anonymize(responses []ModelResponse) (*LabelMapping, []LabeledResponse) {
	labels := make([]string, len(responses))
	toModel := make(map[string]string, len(responses))
	presented := make([]LabeledResponse, len(responses))
	for i, r := range responses {
		labels[i] = labelPrefix + letters(i)
		toModel[labels[i]] = r.Model
		presented[i] = LabeledResponse{Label: labels[i], Text: r.Response}
	}
	return NewLabelMapping(labels, toModel), presented
}

// letters renders i as a spreadsheet-style column: A..Z, AA, AB, ...
func letters(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append(b, byte('A'+(i-1)%26))
	}
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
	return string(b)
}
