package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/surprisal/internal/tokenizer"
)

// LoadedModel is a tokenizer and model pair owned by one scoring worker.
type LoadedModel struct {
	Ref       Ref
	Tokenizer *tokenizer.Adapter
	Model     Model
	Device    Device
}

func (l *LoadedModel) Family() Family { return l.Model.Family() }

// Close releases the model. The tokenizer holds no external resources.
func (l *LoadedModel) Close() error {
	if l == nil || l.Model == nil {
		return nil
	}
	return l.Model.Close()
}

// LoadTokenizer builds the tokenizer adapter for ref.
func LoadTokenizer(ctx context.Context, p Provider, ref Ref) (tok *tokenizer.Adapter, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w for %s: panic: %v", ErrTokenizer, ref, rec)
		}
	}()
	b, cfg, err := p.Tokenizer(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrTokenizer, ref, err)
	}
	tok, err = tokenizer.Prepare(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrTokenizer, ref, err)
	}
	return tok, nil
}

// LoadModel opens ref as primary, falling back once to the other family.
func LoadModel(ctx context.Context, p Provider, ref Ref, primary Family, device Device) (Model, error) {
	m, primaryErr := openModel(ctx, p, ref, primary, device)
	if primaryErr == nil {
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fallback := primary.Fallback()
	m, fallbackErr := openModel(ctx, p, ref, fallback, device)
	if fallbackErr == nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNoArchitecture, ref,
		errors.Join(
			fmt.Errorf("%s: %w", primary, primaryErr),
			fmt.Errorf("%s: %w", fallback, fallbackErr),
		))
}

func openModel(ctx context.Context, p Provider, ref Ref, family Family, device Device) (m Model, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Model: %v", rec)
		}
	}()
	return p.Model(ctx, ref, family, device)
}

// Load builds the tokenizer then the model for ref.
func Load(ctx context.Context, p Provider, ref Ref, primary Family, device Device) (*LoadedModel, error) {
	tok, err := LoadTokenizer(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	m, err := LoadModel(ctx, p, ref, primary, device)
	if err != nil {
		return nil, err
	}
	return &LoadedModel{Ref: ref, Tokenizer: tok, Model: m, Device: device}, nil
}
