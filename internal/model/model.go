// Package model defines the language-model boundary: architecture families,
// model references, the Model and Provider interfaces, and the
// primary/fallback loading rule.
package model

import (
	"context"
	"strings"

	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// LatestRevision selects the default revision of a model.
const LatestRevision = "[!latest!]"

// Ref names a model at a revision.
type Ref struct {
	ID       string
	Revision string
}

func (r Ref) IsLatest() bool {
	return r.Revision == "" || r.Revision == LatestRevision
}

func (r Ref) String() string {
	if r.IsLatest() {
		return r.ID
	}
	return r.ID + "@" + r.Revision
}

// CleanName is the model id with "/" replaced by "__" and "." by "_". A
// non-latest revision is appended as "___<revision>".
func (r Ref) CleanName() string {
	name := strings.ReplaceAll(r.ID, "/", "__")
	name = strings.ReplaceAll(name, ".", "_")
	if !r.IsLatest() {
		name += "___" + r.Revision
	}
	return name
}

// Model scores token sequences. Each Logits call is independent of previous
// calls.
type Model interface {
	Family() Family
	// Logits runs the model over ids and returns the vocabulary logits at
	// position pos.
	Logits(ctx context.Context, ids []int, pos int) ([]float32, error)
	// MaxInputLength is the longest input the model accepts, or 0 if unknown.
	MaxInputLength() int
	Close() error
}

// Provider resolves tokenizers and models by reference.
type Provider interface {
	Tokenizer(ctx context.Context, ref Ref) (tokenizer.Backend, tokenizer.Config, error)
	// Model opens ref as the requested family. The returned model reports the
	// family it was actually loaded as, which may be CausalMask when Causal
	// was requested.
	Model(ctx context.Context, ref Ref, family Family, device Device) (Model, error)
}

// Lister is implemented by providers that can enumerate their models.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}
