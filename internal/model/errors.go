package model

import "errors"

var (
	ErrTokenizer         = errors.New("cannot construct tokenizer")
	ErrNoArchitecture    = errors.New("not a causal or masked language model")
	ErrUnsupportedFamily = errors.New("unsupported model family")
)
