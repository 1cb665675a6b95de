package tokenizer

import (
	"encoding/json"
	"fmt"
)

// pairTemplate is the special-token layout around an encoded pair:
// Prefix A Middle B Suffix.
type pairTemplate struct {
	Prefix []int64
	Middle []int64
	Suffix []int64
	PadID  int64

	// Special holds every id the tokenizer marks as special. Segment
	// encodings are stripped of these before the pair is assembled.
	Special map[int64]bool
}

func (t *pairTemplate) specialCount() int {
	return len(t.Prefix) + len(t.Middle) + len(t.Suffix)
}

type tokenizerFile struct {
	AddedTokens []struct {
		ID      int64  `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
	Padding *struct {
		PadID int64 `json:"pad_id"`
	} `json:"padding"`
	PostProcessor *postProcessor `json:"post_processor"`
}

type postProcessor struct {
	Type string `json:"type"`

	// BertProcessing and RobertaProcessing: [token, id]
	Sep []json.RawMessage `json:"sep"`
	Cls []json.RawMessage `json:"cls"`

	// TemplateProcessing
	Pair          []templatePiece `json:"pair"`
	SpecialTokens map[string]struct {
		IDs []int64 `json:"ids"`
	} `json:"special_tokens"`

	// Sequence
	Processors []*postProcessor `json:"processors"`
}

type templatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

// parseTemplate reads the pair layout, pad id and special ids from the
// contents of a tokenizer.json file.
func parseTemplate(raw []byte) (*pairTemplate, error) {
	var f tokenizerFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing tokenizer.json: %w", err)
	}

	t := &pairTemplate{Special: map[int64]bool{}}
	padFound := false
	for _, at := range f.AddedTokens {
		if at.Special {
			t.Special[at.ID] = true
		}
		if !padFound && (at.Content == "[PAD]" || at.Content == "<pad>") {
			t.PadID = at.ID
			padFound = true
		}
	}
	if f.Padding != nil {
		t.PadID = f.Padding.PadID
	}

	if f.PostProcessor != nil {
		if err := t.applyProcessor(f.PostProcessor); err != nil {
			return nil, err
		}
	}
	for _, ids := range [][]int64{t.Prefix, t.Middle, t.Suffix} {
		for _, id := range ids {
			t.Special[id] = true
		}
	}
	return t, nil
}

func (t *pairTemplate) applyProcessor(p *postProcessor) error {
	switch p.Type {
	case "BertProcessing":
		cls, err := tokenID(p.Cls)
		if err != nil {
			return fmt.Errorf("BertProcessing cls: %w", err)
		}
		sep, err := tokenID(p.Sep)
		if err != nil {
			return fmt.Errorf("BertProcessing sep: %w", err)
		}
		t.Prefix = []int64{cls}
		t.Middle = []int64{sep}
		t.Suffix = []int64{sep}
	case "RobertaProcessing":
		cls, err := tokenID(p.Cls)
		if err != nil {
			return fmt.Errorf("RobertaProcessing cls: %w", err)
		}
		sep, err := tokenID(p.Sep)
		if err != nil {
			return fmt.Errorf("RobertaProcessing sep: %w", err)
		}
		t.Prefix = []int64{cls}
		t.Middle = []int64{sep, sep}
		t.Suffix = []int64{sep}
	case "TemplateProcessing":
		return t.applyPairTemplate(p)
	case "Sequence":
		for _, sub := range p.Processors {
			if sub == nil {
				continue
			}
			switch sub.Type {
			case "BertProcessing", "RobertaProcessing", "TemplateProcessing":
				return t.applyProcessor(sub)
			}
		}
	}
	return nil
}

func (t *pairTemplate) applyPairTemplate(p *postProcessor) error {
	cur := &t.Prefix
	seen := 0
	for _, piece := range p.Pair {
		switch {
		case piece.Sequence != nil:
			seen++
			switch seen {
			case 1:
				cur = &t.Middle
			case 2:
				cur = &t.Suffix
			default:
				return fmt.Errorf("pair template has more than two sequences")
			}
		case piece.SpecialToken != nil:
			st, ok := p.SpecialTokens[piece.SpecialToken.ID]
			if !ok {
				return fmt.Errorf("pair template references unknown special token %q", piece.SpecialToken.ID)
			}
			*cur = append(*cur, st.IDs...)
		}
	}
	if seen != 2 {
		return fmt.Errorf("pair template has %d sequences, want 2", seen)
	}
	return nil
}

// tokenID reads the id from a ["token", id] pair.
func tokenID(pair []json.RawMessage) (int64, error) {
	if len(pair) != 2 {
		return 0, fmt.Errorf("want [token, id], got %d elements", len(pair))
	}
	var id int64
	if err := json.Unmarshal(pair[1], &id); err != nil {
		return 0, err
	}
	return id, nil
}
