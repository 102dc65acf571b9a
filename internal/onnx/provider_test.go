package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/tokenizer"
)

const tokenizerJSON = `{
	"added_tokens": [{"id": 3, "content": "</s>", "special": true}],
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"model": {"type": "BPE", "ignore_merges": true, "vocab": {"a": 0, "b": 1, "Ġ": 2, "</s>": 3}, "merges": []}
}`

func writeModel(t *testing.T, root, id, config string, withGraph bool) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(id))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(tokenizerJSON), 0o644))
	if withGraph {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "onnx"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "onnx", "model.onnx"), []byte("not a graph"), 0o644))
	}
	return dir
}

func TestModelDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := writeModel(t, root, "org/tiny-gpt", `{}`, false)
	revDir := writeModel(t, root, "org/tiny-gpt@step10", `{}`, false)
	p := NewProvider(root, "", nil)

	got, err := p.ModelDir(model.Ref{ID: "org/tiny-gpt", Revision: model.LatestRevision})
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	got, err = p.ModelDir(model.Ref{ID: "org/tiny-gpt", Revision: "step10"})
	require.NoError(t, err)
	assert.Equal(t, revDir, got)

	_, err = p.ModelDir(model.Ref{ID: "org/missing"})
	require.Error(t, err)
	_, err = p.ModelDir(model.Ref{ID: "../escape"})
	require.Error(t, err)
}

func TestList(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeModel(t, root, "org/b-model", `{}`, true)
	writeModel(t, root, "gpt2", `{}`, false)
	writeModel(t, root, "org/b-model@rev1", `{}`, false)

	ids, err := NewProvider(root, "", nil).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt2", "org/b-model", "org/b-model@rev1"}, ids)

	assert.Equal(t, model.Ref{ID: "org/b-model", Revision: "rev1"}, ParseListedID("org/b-model@rev1"))
	assert.Equal(t, model.Ref{ID: "gpt2", Revision: model.LatestRevision}, ParseListedID("gpt2"))
}

func TestTokenizerSlowPath(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeModel(t, root, "org/open_llama-tiny", `{}`, false)

	b, cfg, err := NewProvider(root, "", nil).Tokenizer(context.Background(), model.Ref{ID: "org/open_llama-tiny"})
	require.NoError(t, err)
	assert.IsType(t, &tokenizer.BPE{}, b)
	assert.Equal(t, tokenizer.DefaultMaxLength, cfg.ModelMaxLength)
}

// Classification and graph lookup fail before the runtime is touched.
func TestModelErrorsBeforeRuntime(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeModel(t, root, "gpt", `{"model_type":"gpt2","architectures":["GPT2LMHeadModel"]}`, true)
	writeModel(t, root, "bert", `{"model_type":"bert","architectures":["BertForMaskedLM"]}`, false)
	p := NewProvider(root, "", nil)
	ctx := context.Background()

	_, err := p.Model(ctx, model.Ref{ID: "gpt"}, model.Masked, model.DeviceCPU)
	require.ErrorIs(t, err, model.ErrUnsupportedFamily)

	_, err = p.Model(ctx, model.Ref{ID: "bert"}, model.Masked, model.DeviceCPU)
	require.ErrorContains(t, err, "no model.onnx")
}

func TestSelectIO(t *testing.T) {
	t.Parallel()

	ins := []ort.InputOutputInfo{{Name: "input_ids"}, {Name: "attention_mask"}, {Name: "token_type_ids"}}
	outs := []ort.InputOutputInfo{
		{Name: "hidden", DataType: ort.TensorElementDataTypeFloat},
		{Name: "logits", DataType: ort.TensorElementDataTypeFloat},
	}
	names, kinds, out, err := selectIO(ins, outs)
	require.NoError(t, err)
	assert.Equal(t, []string{"input_ids", "attention_mask", "token_type_ids"}, names)
	assert.Equal(t, []inputKind{inputIDs, inputMask, inputTypeIDs}, kinds)
	assert.Equal(t, "logits", out)

	_, _, _, err = selectIO([]ort.InputOutputInfo{{Name: "attention_mask"}}, outs)
	require.Error(t, err)
	_, _, _, err = selectIO([]ort.InputOutputInfo{{Name: "input_ids"}, {Name: "past_key_values.0.key"}}, outs)
	require.Error(t, err)
}

func TestRowAt(t *testing.T) {
	t.Parallel()

	data := []float32{0, 1, 2, 10, 11, 12}
	row, err := rowAt(data, ort.NewShape(1, 2, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 11, 12}, row)

	_, err = rowAt(data, ort.NewShape(1, 2, 3), 2)
	require.Error(t, err)
	_, err = rowAt(data, ort.NewShape(2, 3), 0)
	require.Error(t, err)
}

func TestLibraryPath(t *testing.T) {
	t.Setenv(LibraryEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/custom.so", LibraryPath("/custom.so"))
	assert.Equal(t, "/opt/ort/libonnxruntime.so", LibraryPath(""))
}
