package agent

import (
	"testing"

	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/llm"
	"github.com/BaSui01/finrag/llm/embedding"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/testutil"
	"github.com/BaSui01/finrag/testutil/fixtures"
	"github.com/BaSui01/finrag/testutil/mocks"
	"github.com/BaSui01/finrag/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// 真实组件 + 内存索引 + 脚本化模型

const appleAnswer = "Apple reported total net sales of $383.3 billion in fiscal 2023 [aapl-10k-2023]."

func newIndexedRegistry(t *testing.T, docs ...[]fixtures.Document) *rag.IndexRegistry {
	t.Helper()
	reg, err := rag.NewIndexRegistry(rag.RegistryConfig{CollectionPrefix: "entity_"}, embedding.NewHashEmbedder(256), nil, nil)
	require.NoError(t, err)

	ing := rag.NewIngestor(reg, rag.NewChunker(rag.ChunkingConfig{ChunkSize: 400}), nil)
	for _, set := range docs {
		for _, d := range set {
			_, err := ing.Ingest(testutil.TestContext(t), rag.IngestRequest{
				Entity: d.Entity, DocumentRef: d.DocumentRef, Title: d.Title,
				ContentType: d.ContentType, Text: d.Text,
			})
			require.NoError(t, err)
		}
	}
	return reg
}

func scriptedModel() *mocks.MockModel {
	return mocks.NewMockModel().
		OnExtract(llm.TaskGradeBatch, fixtures.SufficientBatch("AAPL")).
		OnGenerate(llm.TaskAnswer, appleAnswer).
		OnExtract(llm.TaskGrounding, llm.GroundingVerdict{Grounded: true}).
		OnExtract(llm.TaskRelevance, llm.RelevanceVerdict{Relevant: true})
}

func newPipeline(t *testing.T, model llm.Model, reg *rag.IndexRegistry) *Orchestrator {
	t.Helper()
	c := NewContainerWithModel(model, reg, config.DefaultPipelineConfig(), zaptest.NewLogger(t)).
		WithRegistry(reg)
	o, err := NewOrchestrator(c)
	require.NoError(t, err)
	return o
}

func TestPipeline_AnswersFromIndexedFilings(t *testing.T) {
	model := scriptedModel()
	o := newPipeline(t, model, newIndexedRegistry(t, fixtures.AppleDocuments()))

	resp, err := o.Ask(testutil.TestContext(t), types.Query{Text: "What was AAPL revenue in fiscal 2023?"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, appleAnswer, resp.Answer)
	assert.True(t, resp.IndexSearched)
	assert.False(t, resp.WebSearched)
	require.NotNil(t, resp.Verify)
	assert.True(t, resp.Verify.Grounded)
	require.NotEmpty(t, resp.Provenance)
	for _, p := range resp.Provenance {
		assert.Equal(t, "AAPL", p.Entity)
		assert.Equal(t, types.SourceIndex, p.Source)
	}

	assert.GreaterOrEqual(t, model.Calls(llm.TaskGradeBatch), 1)
	assert.Equal(t, 1, model.Calls(llm.TaskAnswer))
	assert.Equal(t, 1, model.Calls(llm.TaskGrounding))
	require.NoError(t, validateTrace(resp.Trace))
}

func TestPipeline_MissingCollectionIsInsufficient(t *testing.T) {
	model := scriptedModel()
	o := newPipeline(t, model, newIndexedRegistry(t, fixtures.AppleDocuments()))

	resp, err := o.Ask(testutil.TestContext(t), types.Query{Text: "What was NVDA revenue in 2023?"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeInsufficientData, resp.Outcome)
	assert.True(t, resp.IndexSearched)
	assert.False(t, resp.WebSearched)
	assert.Empty(t, resp.Provenance)
	assert.Equal(t, 0, model.Calls(llm.TaskGradeBatch))
	assert.Equal(t, 0, model.Calls(llm.TaskAnswer))
	assert.Nil(t, resp.Chart)
}

func TestPipeline_ClarifyThenAnswer(t *testing.T) {
	model := scriptedModel()
	o := newPipeline(t, model, newIndexedRegistry(t, fixtures.AppleDocuments(), fixtures.MicrosoftDocuments()))
	ctx := testutil.TestContext(t)

	first, err := o.Ask(ctx, types.Query{Text: "What was its revenue last year?", ConversationID: "conv-1"})
	require.NoError(t, err)
	require.Equal(t, OutcomeClarificationRequired, first.Outcome)
	assert.NotEmpty(t, first.ClarificationQuestion)
	assert.False(t, first.IndexSearched)
	assert.Equal(t, 0, model.Calls(llm.TaskAnswer))

	resp, err := o.Resume(ctx, first.WorkflowID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, first.WorkflowID, resp.WorkflowID)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.True(t, resp.IndexSearched)
	for _, p := range resp.Provenance {
		assert.Equal(t, "AAPL", p.Entity)
	}
}
