package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	assert := assert.New(t)

	obj, ok := ExtractJSONObject(`Sure! {"classification":"nsfw","confidence":0.8} hope that helps {"x":1}`)
	assert.True(ok)
	assert.Equal(`{"classification":"nsfw","confidence":0.8}`, obj)

	obj, ok = ExtractJSONObject(`{"reasoning":"uses { and } freely \" here","n":{"a":1}} trailing`)
	assert.True(ok)
	assert.Equal(`{"reasoning":"uses { and } freely \" here","n":{"a":1}}`, obj)

	// unbalanced then valid
	obj, ok = ExtractJSONObject(`{ broken {"classification":"safe","confidence":0.5}`)
	assert.True(ok)
	assert.Equal(`{"classification":"safe","confidence":0.5}`, obj)

	// balanced but not JSON, then valid
	obj, ok = ExtractJSONObject(`{not json} then {"classification":"safe","confidence":0.5}`)
	assert.True(ok)
	assert.Equal(`{"classification":"safe","confidence":0.5}`, obj)

	_, ok = ExtractJSONObject("no object here")
	assert.False(ok)

	_, ok = ExtractJSONObject("{ never closed")
	assert.False(ok)
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult("```json\n{\"classification\": \"NSFW\", \"confidence\": 0.92, \"reasoning\": \"graphic\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, Result{Classification: ClassNSFW, Confidence: 0.92, Reasoning: "graphic"}, res)

	res, err = ParseResult(`{"classification":"safe","confidence":1}`)
	require.NoError(t, err)
	assert.Equal(t, "", res.Reasoning)
}

func TestParseResultClampsConfidence(t *testing.T) {
	res, err := ParseResult(`{"classification":"unsafe","confidence":1.7,"reasoning":"threat"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)

	res, err = ParseResult(`{"classification":"safe","confidence":-0.2,"reasoning":""}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestParseResultRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"the content looks fine",
		`{"classification":"maybe","confidence":0.5}`,
		`{"classification":3,"confidence":0.5}`,
		`{"confidence":0.5}`,
		`{"classification":"safe","confidence":"high"}`,
		`{"classification":"safe"}`,
		`{"classification":"safe","confidence":0.5,"reasoning":42}`,
	}
	for _, raw := range bad {
		_, err := ParseResult(raw)
		assert.Error(t, err, raw)
	}
}
