package api

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// StimulusInput is either one stimulus string or an array of them.
type StimulusInput []string

func (v *StimulusInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = nil
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = StimulusInput{s}
		return nil
	case '[':
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*v = list
		return nil
	default:
		return fmt.Errorf("stimuli must be a string or an array of strings")
	}
}

type SurprisalRequest struct {
	Model    string        `json:"model"`
	Revision string        `json:"revision,omitempty"`
	Stimuli  StimulusInput `json:"stimuli"`
	// PrimaryDecoder overrides the server default ("masked" or "causal").
	PrimaryDecoder   string   `json:"primary_decoder,omitempty"`
	FollowingContext *bool    `json:"following_context,omitempty"`
	Metrics          []string `json:"metrics,omitempty"`
	// Tokens includes per-token scores in each result.
	Tokens bool `json:"tokens,omitempty"`
}

type TokenResult struct {
	ID          int     `json:"id"`
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
	Surprisal   float64 `json:"surprisal"`
}

type StimulusResult struct {
	Index        int                `json:"index"`
	Stimulus     string             `json:"stimulus"`
	FullSentence string             `json:"full_sentence,omitempty"`
	Sentence     string             `json:"sentence,omitempty"`
	Target       string             `json:"target,omitempty"`
	Values       map[string]float64 `json:"values,omitempty"`
	NumTokens    int                `json:"num_tokens,omitempty"`
	Tokens       []TokenResult      `json:"tokens,omitempty"`
	Error        *ResponseError     `json:"error,omitempty"`
}

type SurprisalResponse struct {
	ID       string           `json:"id"`
	Object   string           `json:"object"`
	Created  int64            `json:"created"`
	Model    string           `json:"model"`
	Revision string           `json:"revision"`
	Family   string           `json:"family"`
	Device   string           `json:"device"`
	Results  []StimulusResult `json:"results"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}
