package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogdesk/api/internal/nodes"
)

func TestStepMap(t *testing.T) {
	tests := []struct {
		name        string
		step        StepMap
		pos, assoc  int
		want        int
		wantDeleted bool
	}{
		{"before insertion", StepMap{Start: 5, NewSize: 3}, 4, 1, 4, false},
		{"at insertion sticking left", StepMap{Start: 5, NewSize: 3}, 5, -1, 5, false},
		{"at insertion sticking right", StepMap{Start: 5, NewSize: 3}, 5, 1, 8, false},
		{"after insertion", StepMap{Start: 5, NewSize: 3}, 6, 1, 9, false},
		{"start of replaced range", StepMap{Start: 2, OldSize: 4, NewSize: 1}, 2, 1, 2, false},
		{"inside replaced range", StepMap{Start: 2, OldSize: 4, NewSize: 1}, 4, 1, 3, true},
		{"inside replaced range left", StepMap{Start: 2, OldSize: 4, NewSize: 1}, 4, -1, 2, true},
		{"end of replaced range", StepMap{Start: 2, OldSize: 4, NewSize: 1}, 6, -1, 3, false},
		{"after replaced range", StepMap{Start: 2, OldSize: 4, NewSize: 1}, 9, 1, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, deleted := tt.step.Map(tt.pos, tt.assoc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDeleted, deleted)
		})
	}
}

func TestResolvePositions(t *testing.T) {
	doc := NewDocument(NewParagraph("abc"), NewNode(nodes.DividerAttrs{}), NewParagraph(""))
	require.Equal(t, 8, doc.Size())

	tests := []struct {
		pos  int
		want location
	}{
		{0, location{index: 0, offset: -1}},
		{1, location{index: 0, offset: 0}},
		{4, location{index: 0, offset: 3}},
		{5, location{index: 1, offset: -1}},
		{6, location{index: 2, offset: -1}},
		{7, location{index: 2, offset: 0}},
		{8, location{index: 3, offset: -1}},
	}
	for _, tt := range tests {
		got, err := doc.resolve(tt.pos)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "pos %d", tt.pos)
	}
	_, err := doc.resolve(9)
	assert.Error(t, err)
	_, err = doc.resolve(-1)
	assert.Error(t, err)
}

func TestReplaceText(t *testing.T) {
	doc := NewDocument(NewParagraph("hello world"))
	require.NoError(t, doc.ReplaceText(7, 12, "there", nil))
	assert.Equal(t, "<p>hello there</p>", doc.HTML())
	assert.Equal(t, 1, doc.Version())
}

func TestReplaceTextAcrossBlocks(t *testing.T) {
	doc := NewDocument(NewParagraph("abc"), NewParagraph("def"))
	require.NoError(t, doc.ReplaceText(2, 8, "X", nil))
	assert.Equal(t, "<p>aXf</p>", doc.HTML())
	assert.Equal(t, 5, doc.Size())
}

func TestReplaceTextKeepsMarksAround(t *testing.T) {
	doc, issues := Parse("<p>a <strong>bold</strong> move</p>")
	require.Empty(t, issues)
	// "bold" sits at offsets 2..6, positions 3..7.
	require.NoError(t, doc.ReplaceText(3, 7, "brave", nil))
	assert.Equal(t, "<p>a brave move</p>", doc.HTML())
}

func TestReplaceTextRejectsNonText(t *testing.T) {
	doc := NewDocument(NewNode(nodes.DividerAttrs{}), NewParagraph("x"))
	err := doc.ReplaceText(0, 2, "y", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, doc.Version())
}

func TestTrackedRangeFollowsEdits(t *testing.T) {
	doc := NewDocument(NewParagraph("one two three"))
	r := doc.Track(5, 8)
	require.Equal(t, "two", doc.TextBetween(r.From, r.To))

	require.NoError(t, doc.ReplaceText(1, 1, "zero ", nil))
	_, err := doc.InsertBlocks(0, []Block{NewNode(nodes.DividerAttrs{})})
	require.NoError(t, err)

	from, to, ok := doc.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, "two", doc.TextBetween(from, to))
	assert.Equal(t, 11, from)

	// Typing right at either edge stays outside the range.
	require.NoError(t, doc.ReplaceText(from, from, ">", nil))
	require.NoError(t, doc.ReplaceText(to+1, to+1, "<", nil))
	from, to, ok = doc.Resolve(r)
	require.True(t, ok)
	assert.Equal(t, "two", doc.TextBetween(from, to))
}

func TestTrackedRangeDeleted(t *testing.T) {
	doc := NewDocument(NewParagraph("one two three"))
	r := doc.Track(5, 8)
	require.NoError(t, doc.ReplaceText(4, 10, "", nil))
	_, _, ok := doc.Resolve(r)
	assert.False(t, ok)
}

func TestInsertBlocks(t *testing.T) {
	chart := func() Block { return NewNode(nodes.ChartAttrs{ChartType: nodes.ChartBar}) }
	tests := []struct {
		name     string
		doc      []Block
		pos      int
		wantPos  int
		wantText []string
	}{
		{"split paragraph", []Block{NewParagraph("abcd")}, 3, 4, []string{"ab", "", "cd"}},
		{"start of paragraph", []Block{NewParagraph("abcd")}, 1, 0, []string{"", "abcd"}},
		{"end of paragraph", []Block{NewParagraph("abcd")}, 5, 6, []string{"abcd", ""}},
		{"replaces empty paragraph", []Block{NewParagraph("")}, 1, 0, []string{""}},
		{"between blocks", []Block{NewParagraph("a"), NewParagraph("b")}, 3, 3, []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument(tt.doc...)
			size := doc.Size()
			pos, err := doc.InsertBlocks(tt.pos, []Block{chart()})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPos, pos)

			node, ok := doc.NodeAt(pos)
			require.True(t, ok)
			assert.Equal(t, nodes.KindChart, node.Kind())

			var texts []string
			for _, b := range doc.Blocks() {
				texts = append(texts, b.Text())
			}
			assert.Equal(t, tt.wantText, texts)

			// A position after the insertion maps to the same content.
			mapped, deleted := doc.MapSince(0, size, 1)
			assert.False(t, deleted)
			assert.Equal(t, doc.Size(), mapped)
		})
	}
}

func TestSetAttrs(t *testing.T) {
	img := NewNode(nodes.ImageAttrs{Src: "/a.png", Width: 300, Align: nodes.AlignLeft})
	doc := NewDocument(img)
	require.NoError(t, doc.SetAttrs(img.ID, nodes.ImageAttrs{Src: "/a.png", Width: 400, Align: nodes.AlignLeft}))
	assert.Equal(t, 0, doc.Version())

	err := doc.SetAttrs(img.ID, nodes.DividerAttrs{})
	assert.Error(t, err)
	err = doc.SetAttrs("missing", nodes.DividerAttrs{})
	assert.Error(t, err)

	refs := doc.Nodes()
	require.Len(t, refs, 1)
	assert.Equal(t, 400, refs[0].Attrs.(nodes.ImageAttrs).Width)
}
