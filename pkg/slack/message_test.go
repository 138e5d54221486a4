package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRoundMessage_Done(t *testing.T) {
	blocks := BuildRoundMessage(RoundCompletedInput{
		EntityType: "topic",
		EntityID:   "t1",
		EntityName: "ai safety",
		Status:     "done",
		Summary:    "Three new papers, sentiment mostly positive.",
	})

	require.Len(t, blocks, 2)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Monitoring Round Complete")
	assert.Contains(t, header.Text.Text, "ai safety")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, body.Text.Text, "Three new papers")
}

func TestBuildRoundMessage_DoneWithoutSummary(t *testing.T) {
	blocks := BuildRoundMessage(RoundCompletedInput{
		EntityType: "user",
		EntityID:   "u1",
		EntityName: "someone",
		Status:     "done",
	})

	require.Len(t, blocks, 1)
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, "someone")
}

func TestBuildRoundMessage_Error(t *testing.T) {
	blocks := BuildRoundMessage(RoundCompletedInput{
		EntityType:   "topic",
		EntityID:     "t2",
		EntityName:   "quantum",
		Status:       "error",
		ErrorMessage: "step limit exceeded after 10 steps",
	})

	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "Monitoring Round Failed")

	body := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, body.Text.Text, "step limit exceeded")
}

func TestBuildRoundMessage_UnknownStatus(t *testing.T) {
	blocks := BuildRoundMessage(RoundCompletedInput{
		EntityType: "topic",
		EntityID:   "t3",
		EntityName: "x",
		Status:     "weird",
	})

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":question:")
	assert.Contains(t, header.Text.Text, "Monitoring Round weird")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
