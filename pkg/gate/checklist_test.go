package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeChecklist(t *testing.T) {
	desc := "- [ ] a\n- [x] b\n- [ ] c\n```\n- [ ] fenced, not counted\n```\n"

	summary := SummarizeChecklist(desc)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 2, summary.Unchecked)
}

func TestSummarizeChecklistRewriteRoundTrip(t *testing.T) {
	desc := "- [ ] a\n- [x] b\n1. [ ] c\n"

	summary := SummarizeChecklist(desc)
	rewritten := SummarizeChecklist(summary.Rewritten)

	assert.Equal(t, 0, rewritten.Unchecked)
	assert.Equal(t, summary.Total, rewritten.Total)
}

func TestSummarizeChecklistNoItems(t *testing.T) {
	summary := SummarizeChecklist("just some text\nwith no checkboxes")
	assert.Equal(t, 0, summary.Total)
}

func TestSummarizeChecklistTildeFence(t *testing.T) {
	desc := "~~~\n- [ ] fenced\n~~~\n- [ ] real item\n"

	summary := SummarizeChecklist(desc)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Unchecked)
}
