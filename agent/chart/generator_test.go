package chart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/BaSui01/finrag/agent/answer"
	"github.com/BaSui01/finrag/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRenderer struct {
	title string
	data  Data
	err   error
}

func (f *fakeRenderer) Render(title string, d Data) ([]byte, error) {
	f.title, f.data = title, d
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png-bytes"), nil
}

func (f *fakeRenderer) Format() string { return "png" }

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

const tableAnswer = "| Metric | AAPL | MSFT |\n|---|---|---|\n| Revenue | $383.3 billion | $211.9 billion |\n| Guidance | not specified | not specified |"

func TestGenerator_FromAnswerUploads(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{}
	s3c := &fakeS3{}
	up := NewS3UploaderWithClient(s3c, "charts-bucket", "charts/", "https://cdn.example.com/")
	g := NewGenerator(r, up, 8, zap.NewNop())

	ref, err := g.FromAnswer(context.Background(), "wf-1", tableAnswer, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/charts/wf-1.png", ref.URL)
	assert.Equal(t, []string{"Revenue"}, ref.Metrics)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ref.Entities)
	assert.Equal(t, len("png-bytes"), ref.Bytes)
	assert.Equal(t, "AAPL vs MSFT", r.title)

	require.NotNil(t, s3c.in)
	assert.Equal(t, "charts-bucket", *s3c.in.Bucket)
	assert.Equal(t, "charts/wf-1.png", *s3c.in.Key)
	assert.Equal(t, "image/png", *s3c.in.ContentType)
	assert.Equal(t, []byte("png-bytes"), s3c.body)
}

func TestGenerator_PrefersParsedTable(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{}
	g := NewGenerator(r, nil, 0, nil)
	tbl := answer.ComparisonTable{
		Entities: []string{"NVDA"},
		Rows:     []answer.TableRow{{Metric: "EPS", Values: map[string]string{"NVDA": "$11.93"}}},
	}

	ref, err := g.FromAnswer(context.Background(), "wf-2", "prose only", &tbl)
	require.NoError(t, err)
	assert.Empty(t, ref.URL)
	assert.Equal(t, []string{"NVDA"}, r.data.Entities)
}

func TestGenerator_Failures(t *testing.T) {
	t.Parallel()

	g := NewGenerator(&fakeRenderer{}, nil, 8, zap.NewNop())
	_, err := g.FromAnswer(context.Background(), "wf", "Apple earned more.", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrChartParseFailure))

	broken := NewGenerator(&fakeRenderer{err: errors.New("font missing")}, nil, 8, zap.NewNop())
	_, err = broken.FromAnswer(context.Background(), "wf", tableAnswer, nil)
	assert.ErrorContains(t, err, "font missing")

	failingUpload := NewGenerator(&fakeRenderer{}, NewS3UploaderWithClient(&fakeS3{err: errors.New("access denied")}, "b", "", ""), 8, zap.NewNop())
	_, err = failingUpload.FromAnswer(context.Background(), "wf", tableAnswer, nil)
	assert.ErrorContains(t, err, "put s3://b/wf.png")
}

func TestS3Uploader_DefaultReference(t *testing.T) {
	t.Parallel()

	up := NewS3UploaderWithClient(&fakeS3{}, "bucket", "p/", "")
	ref, err := up.Upload(context.Background(), "x.png", []byte("1"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/p/x.png", ref)
}

func TestFileUploader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, err := FileUploader{Dir: dir}.Upload(context.Background(), "nested/wf.png", []byte("data"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "wf.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestPlotRenderer_PNG(t *testing.T) {
	t.Parallel()

	d, err := Extract(comparisonTable(3), 8)
	require.NoError(t, err)

	img, err := NewPlotRenderer().Render("AAPL vs MSFT vs NVDA", d)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")), "png signature")

	_, err = NewPlotRenderer().Render("empty", Data{})
	assert.Error(t, err)
}
