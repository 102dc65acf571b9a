package toy

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ToyLM is a minimal language model used for testing the scoring pipeline.
// It consists of an embedding matrix, a weight matrix for projecting the
// pooled context back to vocab logits, and a bias vector. The context of a
// position is a distance-weighted mean of the visible token embeddings, so
// logits change with both the tokens and their order.
type ToyLM struct {
	Vocab  int
	Hidden int

	Emb  *mat.Dense // [Vocab x Hidden] embedding matrix
	W    *mat.Dense // [Hidden x Vocab] projection weights
	Bias []float64  // [Vocab] bias added to logits
}

// NewToyLM constructs a model with the given vocabulary and hidden size. It
// initialises the embedding and weight matrices with random values derived
// from the provided seed.
func NewToyLM(vocab, hidden int, seed int64) *ToyLM {
	m := &ToyLM{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    mat.NewDense(vocab, hidden, nil),
		W:      mat.NewDense(hidden, vocab, nil),
		Bias:   make([]float64, vocab),
	}
	fillRand(m.Emb, seed+11)
	fillRand(m.W, seed+23)
	return m
}

func fillRand(d *mat.Dense, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	r, c := d.Dims()
	for i := range r {
		row := d.RawRowView(i)
		for j := range c {
			row[j] = (rng.Float64() - 0.5) * 4
		}
	}
}

// Forward computes the logits at position pos of ids. With causal set only
// ids[:pos+1] are visible; otherwise every position except pos is. Token
// indices outside [0, Vocab) are reduced modulo Vocab.
func (m *ToyLM) Forward(ids []int, pos int, causal bool) []float32 {
	h := mat.NewVecDense(m.Hidden, nil)
	var total float64
	for i, tok := range ids {
		if causal && i > pos {
			break
		}
		if !causal && i == pos {
			continue
		}
		d := pos - i
		if d < 0 {
			d = -d
		}
		w := 1 / float64(1+d)
		h.AddScaledVec(h, w, m.Emb.RowView(m.wrap(tok)))
		total += w
	}
	if total > 0 {
		h.ScaleVec(1/total, h)
	}

	// logits = W^T h + bias
	out := mat.NewVecDense(m.Vocab, nil)
	out.MulVec(m.W.T(), h)
	logits := make([]float32, m.Vocab)
	for j := range logits {
		logits[j] = float32(out.AtVec(j) + m.Bias[j])
	}
	return logits
}

func (m *ToyLM) wrap(tok int) int {
	if tok < 0 || tok >= m.Vocab {
		tok = tok % m.Vocab
		if tok < 0 {
			tok += m.Vocab
		}
	}
	return tok
}
