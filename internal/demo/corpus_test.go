package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieve_RanksByOverlap(t *testing.T) {
	docs := Retrieve(Corpus, "retry with a fallback after every exec attempt", 2)
	require.NotEmpty(t, docs)
	assert.Equal(t, "retry", docs[0].ID)
}

func TestRetrieve_NoOverlap(t *testing.T) {
	assert.Empty(t, Retrieve(Corpus, "kubernetes", 3))
}

func TestRetrieve_IgnoresStopWords(t *testing.T) {
	assert.Empty(t, Retrieve(Corpus, "what is the", 3))
}

func TestMock_Verbs(t *testing.T) {
	ctx := context.Background()
	var m Mock

	out, err := m.Complete(ctx, "summarize: First part. Second part.")
	require.NoError(t, err)
	assert.Equal(t, "First part.", out)

	out, _ = m.Complete(ctx, "answer: why?\ncontext: ")
	assert.Equal(t, "I don't know.", out)

	out, _ = m.Complete(ctx, "classify: app crashed, urgent")
	assert.JSONEq(t, `{"category":"bug","priority":"high"}`, out)

	a, _ := m.Complete(ctx, "publish: text")
	b, _ := m.Complete(ctx, "publish: text")
	assert.Equal(t, a, b)

	out, _ = m.Complete(ctx, "greet: de Ada")
	assert.Equal(t, "Hallo, Ada", out)
}

func TestMock_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Mock{}.Complete(ctx, "draft: x")
	assert.ErrorIs(t, err, context.Canceled)
}
