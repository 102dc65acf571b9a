package tokenizer

// Minimal tokenizer.json fixtures for two tokenizer families.

// byteLevelJSON is a GPT-2 style byte-level vocabulary ("Ġ" marks a leading
// space). ignore_merges lets whole words resolve without a merge table.
const byteLevelJSON = `{
	"added_tokens": [{"id": 6, "content": "<|endoftext|>", "special": true}],
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false},
	"post_processor": {"type": "ByteLevel"},
	"model": {
		"type": "BPE",
		"ignore_merges": true,
		"vocab": {
			"The": 0, "Ġdog": 1, "Ġchased": 2, "Ġthe": 3, "Ġcat": 4, ".": 5,
			"<|endoftext|>": 6, "Ġ": 7, "chased": 8
		},
		"merges": []
	}
}`

// metaspaceJSON is a SentencePiece style vocabulary ("▁" marks a leading
// space) with byte fallback and a bos-prepending template.
const metaspaceJSON = `{
	"added_tokens": [
		{"id": 0, "content": "<unk>", "special": true},
		{"id": 1, "content": "<s>", "special": true},
		{"id": 2, "content": "</s>", "special": true}
	],
	"normalizer": {"type": "Sequence", "normalizers": [
		{"type": "Prepend", "prepend": "▁"},
		{"type": "Replace", "pattern": {"String": " "}, "content": "▁"}
	]},
	"pre_tokenizer": null,
	"post_processor": {
		"type": "TemplateProcessing",
		"single": [{"SpecialToken": {"id": "<s>", "type_id": 0}}, {"Sequence": {"id": "A", "type_id": 0}}],
		"special_tokens": {"<s>": {"id": "<s>", "ids": [1], "tokens": ["<s>"]}}
	},
	"model": {
		"type": "BPE",
		"byte_fallback": true,
		"ignore_merges": true,
		"unk_token": "<unk>",
		"vocab": {
			"<unk>": 0, "<s>": 1, "</s>": 2, "▁": 3, "▁The": 4, "▁dog": 5,
			"▁chased": 6, "▁the": 7, "▁cat": 8, ".": 9, "<0x21>": 10
		},
		"merges": ["▁ c", "▁c a", "▁ca t"]
	}
}`

// fastByteLevelJSON is a GPT-2 style vocabulary with a real merge table, as
// the sugarme BPE model builds words from single characters.
const fastByteLevelJSON = `{
	"added_tokens": [{"id": 30, "content": "<|endoftext|>", "special": true}],
	"normalizer": null,
	"pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false, "trim_offsets": true},
	"post_processor": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": false},
	"decoder": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": true},
	"model": {
		"type": "BPE",
		"vocab": {
			"T": 1, "h": 2, "e": 3, "Ġ": 4, "d": 5, "o": 6, "g": 7, "c": 8, "a": 9,
			"s": 10, "t": 11, ".": 12, "Th": 13, "The": 14, "Ġd": 15, "Ġdo": 16,
			"Ġdog": 17, "ch": 18, "cha": 19, "chas": 20, "chase": 21, "chased": 22,
			"Ġchased": 23, "th": 24, "the": 25, "Ġthe": 26, "ca": 27, "cat": 28,
			"Ġcat": 29, "<|endoftext|>": 30
		},
		"merges": [
			"T h", "Th e", "Ġ d", "Ġd o", "Ġdo g", "c h", "ch a", "cha s",
			"chas e", "chase d", "Ġ chased", "t h", "th e", "Ġ the", "c a",
			"ca t", "Ġ cat"
		]
	}
}`

// wordPieceJSON is a BERT style uncased WordPiece vocabulary.
const wordPieceJSON = `{
	"added_tokens": [
		{"id": 0, "content": "[PAD]", "special": true},
		{"id": 1, "content": "[UNK]", "special": true},
		{"id": 2, "content": "[CLS]", "special": true},
		{"id": 3, "content": "[SEP]", "special": true},
		{"id": 4, "content": "[MASK]", "special": true}
	],
	"normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": null, "lowercase": true},
	"pre_tokenizer": {"type": "BertPreTokenizer"},
	"post_processor": {"type": "BertProcessing", "sep": ["[SEP]", 3], "cls": ["[CLS]", 2]},
	"decoder": {"type": "WordPiece", "prefix": "##", "cleanup": true},
	"model": {
		"type": "WordPiece",
		"unk_token": "[UNK]",
		"continuing_subword_prefix": "##",
		"max_input_chars_per_word": 100,
		"vocab": {
			"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "[MASK]": 4,
			"the": 5, "dog": 6, "chased": 7, "cat": 8, ".": 9, "##s": 10
		}
	}
}`
