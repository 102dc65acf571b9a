package onnx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
)

type inputKind int

const (
	inputIDs inputKind = iota
	inputMask
	inputTypeIDs
)

type session struct {
	mu         sync.Mutex
	sess       *ort.DynamicAdvancedSession
	inputs     []inputKind
	inputNames []string
	output     string
	device     model.Device
}

// selectIO picks the token-id, attention-mask and token-type inputs and the
// logits output of a graph.
func selectIO(ins, outs []ort.InputOutputInfo) ([]string, []inputKind, string, error) {
	var names []string
	var kinds []inputKind
	for _, ii := range ins {
		n := strings.ToLower(ii.Name)
		switch {
		case strings.Contains(n, "input_ids"):
			names, kinds = append(names, ii.Name), append(kinds, inputIDs)
		case strings.Contains(n, "attention_mask"):
			names, kinds = append(names, ii.Name), append(kinds, inputMask)
		case strings.Contains(n, "token_type"):
			names, kinds = append(names, ii.Name), append(kinds, inputTypeIDs)
		default:
			return nil, nil, "", fmt.Errorf("unsupported graph input %q", ii.Name)
		}
	}
	hasIDs := false
	for _, k := range kinds {
		hasIDs = hasIDs || k == inputIDs
	}
	if !hasIDs {
		return nil, nil, "", fmt.Errorf("graph has no input_ids input")
	}

	output := ""
	for _, oi := range outs {
		if oi.Name == "logits" {
			output = oi.Name
			break
		}
		if output == "" && oi.DataType == ort.TensorElementDataTypeFloat {
			output = oi.Name
		}
	}
	if output == "" {
		return nil, nil, "", fmt.Errorf("graph has no float logits output")
	}
	return names, kinds, output, nil
}

func openSession(path string, device model.Device, log logger.Logger) (*session, error) {
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("get IO info: %w", err)
	}
	names, kinds, output, err := selectIO(ins, outs)
	if err != nil {
		return nil, err
	}

	s := &session{inputs: kinds, inputNames: names, output: output, device: model.DeviceCPU}
	if device == model.DeviceAuto {
		sess, err := newCUDASession(path, names, output)
		if err == nil {
			s.sess = sess
			s.device = "cuda"
			return s, nil
		}
		log.Debug("cuda unavailable, using cpu", "path", path, "err", err)
	}
	sess, err := ort.NewDynamicAdvancedSession(path, names, []string{output}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	s.sess = sess
	return s, nil
}

func newCUDASession(path string, inputs []string, output string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		return nil, err
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return nil, err
	}
	return ort.NewDynamicAdvancedSession(path, inputs, []string{output}, opts)
}

// run evaluates ids as a batch of one and returns the logits row at pos.
func (s *session) run(ids []int, pos int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, fmt.Errorf("session is closed")
	}

	seq := len(ids)
	shape := ort.NewShape(1, int64(seq))
	values := make([]ort.Value, len(s.inputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, kind := range s.inputs {
		data := make([]int64, seq)
		switch kind {
		case inputIDs:
			for j, id := range ids {
				data[j] = int64(id)
			}
		case inputMask:
			for j := range data {
				data[j] = 1
			}
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor %s: %w", s.inputNames[i], err)
		}
		values[i] = t
	}

	outs := make([]ort.Value, 1)
	if err := s.sess.Run(values, outs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		if outs[0] != nil {
			outs[0].Destroy()
		}
	}()
	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outs[0])
	}
	return rowAt(t.GetData(), t.GetShape(), pos)
}

// rowAt copies logits[0, pos, :] out of a [1, seq, vocab] tensor.
func rowAt(data []float32, shape ort.Shape, pos int) ([]float32, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}
	seq, vocab := int(shape[1]), int(shape[2])
	if pos < 0 || pos >= seq {
		return nil, fmt.Errorf("position %d outside sequence of length %d", pos, seq)
	}
	if len(data) < seq*vocab {
		return nil, fmt.Errorf("logits data has %d values, shape %v", len(data), shape)
	}
	row := make([]float32, vocab)
	copy(row, data[pos*vocab:(pos+1)*vocab])
	return row, nil
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

// Model is an ONNX causal or masked LM.
type Model struct {
	sess   *session
	family model.Family
	maxLen int
}

func (m *Model) Family() model.Family { return m.family }

func (m *Model) MaxInputLength() int { return m.maxLen }

func (m *Model) Logits(ctx context.Context, ids []int, pos int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return m.sess.run(ids, pos)
}

func (m *Model) Close() error { return m.sess.close() }
