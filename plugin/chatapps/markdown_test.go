package chatapps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextFlattensInlineMarkup(t *testing.T) {
	got := PlainText("**Great!** Now tell me about _your_ `rooms`.")
	assert.Equal(t, "Great! Now tell me about your rooms.", got)
}

func TestPlainTextKeepsListBullets(t *testing.T) {
	got := PlainText("Here's what I have:\n\n- Kitchen\n- Living Room")
	assert.Equal(t, "Here's what I have:\n\n- Kitchen\n- Living Room", got)
}

func TestPlainTextBulletsOrderedLists(t *testing.T) {
	got := PlainText("1. Sarah\n2. Jake")
	assert.Equal(t, "- Sarah\n- Jake", got)
}

func TestPlainTextKeepsLinkTargets(t *testing.T) {
	got := PlainText("See [the guide](https://hearth.example/guide).")
	assert.Equal(t, "See the guide (https://hearth.example/guide).", got)

	// Non-http destinations are dropped rather than echoed.
	got = PlainText("Ping [support](mailto:help@hearth.example) anytime.")
	assert.Equal(t, "Ping support anytime.", got)
}

func TestPlainTextKeepsAutoLinks(t *testing.T) {
	got := PlainText("Visit <https://hearth.example> for more.")
	assert.Equal(t, "Visit https://hearth.example for more.", got)
}

func TestPlainTextStripsHeadings(t *testing.T) {
	got := PlainText("# Welcome\n\nLet's set up your home.")
	assert.Equal(t, "Welcome\n\nLet's set up your home.", got)
}

func TestPlainTextLineBreaks(t *testing.T) {
	assert.Equal(t, "one two", PlainText("one\ntwo"), "soft break collapses to a space")
	assert.Equal(t, "one\ntwo", PlainText("one  \ntwo"), "hard break keeps the newline")
}

func TestPlainTextKeepsCodeBlockLines(t *testing.T) {
	got := PlainText("Run this:\n\n```\nhearth --with-stub\n```")
	assert.Equal(t, "Run this:\n\nhearth --with-stub", got)
}

func TestPlainTextDropsRawHTML(t *testing.T) {
	got := PlainText("before\n\n<div>ignored</div>\n\nafter")
	assert.Equal(t, "before\n\nafter", got)
}

func TestPlainTextCollapsesBlankRuns(t *testing.T) {
	got := PlainText("a\n\n---\n\nb")
	assert.Equal(t, "a\n\nb", got)
	assert.NotContains(t, got, "\n\n\n")
}

func TestPlainTextPassesPlainSentencesThrough(t *testing.T) {
	reply := "The Smiths, love it! Now, who lives with you?"
	assert.Equal(t, reply, PlainText(reply))
}

func TestPlainTextEmptyInput(t *testing.T) {
	require.Empty(t, PlainText(""))
	require.Empty(t, PlainText("   \n  "))
}
