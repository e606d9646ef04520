package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/pkg/models"
)

func TestEvaluator_MatchesFirstRule(t *testing.T) {
	eval, err := NewEvaluator([]string{
		`chat_id.endsWith("@g.us")`,
		`media_type == "sticker"`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, eval.RuleCount())

	ignored, expr, err := eval.ShouldIgnore(context.Background(), models.Message{
		ID:        "m1",
		ChatID:    "5511999999999@c.us",
		MediaType: models.MediaSticker,
	})
	require.NoError(t, err)
	assert.True(t, ignored)
	assert.Equal(t, `media_type == "sticker"`, expr)
}

func TestEvaluator_NoMatch(t *testing.T) {
	eval, err := NewEvaluator([]string{`sender_name == "spam bot"`})
	require.NoError(t, err)

	ignored, expr, err := eval.ShouldIgnore(context.Background(), models.Message{
		ID:         "m1",
		SenderName: "Alice",
		Text:       "hello",
	})
	require.NoError(t, err)
	assert.False(t, ignored)
	assert.Empty(t, expr)
}

func TestEvaluator_EmptyRuleSet(t *testing.T) {
	eval, err := NewEvaluator(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, eval.RuleCount())

	ignored, _, err := eval.ShouldIgnore(context.Background(), models.Message{ID: "m1"})
	require.NoError(t, err)
	assert.False(t, ignored)
}

func TestEvaluator_RejectsNonBoolExpression(t *testing.T) {
	_, err := NewEvaluator([]string{`chat_id + "x"`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must return bool")
}

func TestEvaluator_RejectsInvalidSyntax(t *testing.T) {
	_, err := NewEvaluator([]string{`chat_id ==`})
	require.Error(t, err)
}

func TestEvaluator_ExposesMediaFields(t *testing.T) {
	eval, err := NewEvaluator([]string{`has_media && media_type == "image"`})
	require.NoError(t, err)

	ignored, _, err := eval.ShouldIgnore(context.Background(), models.Message{
		ID:        "m1",
		MediaType: models.MediaImage,
	})
	require.NoError(t, err)
	assert.True(t, ignored)

	ignored, _, err = eval.ShouldIgnore(context.Background(), models.Message{
		ID:   "m2",
		Text: "plain",
	})
	require.NoError(t, err)
	assert.False(t, ignored)
}

func TestIgnoreExpressionExamples_AllCompile(t *testing.T) {
	for name, expr := range IgnoreExpressionExamples {
		_, err := NewEvaluator([]string{expr})
		assert.NoError(t, err, "example %s", name)
	}
}
