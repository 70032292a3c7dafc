// Package vocab maps character tokens to contiguous integer IDs.
//
// A Vocabulary starts open: unknown tokens looked up with extend=true
// get the next free ID. Freeze closes it; a frozen vocabulary never
// grows and maps unknown tokens to the unk ID.
package vocab

import "fmt"

// Reserved control-token IDs. Pad and unk exist in every vocabulary;
// eos and sos only in seq2seq vocabularies.
const (
	PadID int64 = 0
	UnkID int64 = 1
	EosID int64 = 2
	SosID int64 = 3
)

const (
	PadToken = "<pad>"
	UnkToken = "<unk>"
	EosToken = "<eos>"
	SosToken = "<sos>"
)

// Vocabulary is a bidirectional token/ID table with reserved control
// tokens at the low IDs. Not safe for concurrent mutation; freeze
// before sharing across goroutines.
type Vocabulary struct {
	tokenToID map[string]int64
	idToToken []string
	frozen    bool
}

// New creates an open vocabulary with pad and unk reserved.
func New() *Vocabulary {
	v := &Vocabulary{tokenToID: make(map[string]int64)}
	v.add(PadToken)
	v.add(UnkToken)
	return v
}

// NewSeq2Seq creates an open vocabulary with pad, unk, eos and sos reserved.
func NewSeq2Seq() *Vocabulary {
	v := New()
	v.add(EosToken)
	v.add(SosToken)
	return v
}

func (v *Vocabulary) add(token string) int64 {
	id := int64(len(v.idToToken))
	v.tokenToID[token] = id
	v.idToToken = append(v.idToToken, token)
	return id
}

// GetIdx returns the ID for token. Known tokens always return their ID.
// An unknown token extends an open vocabulary when extend is true;
// otherwise (closed lookup, or frozen vocabulary) it returns UnkID.
func (v *Vocabulary) GetIdx(token string, extend bool) int64 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	if extend && !v.frozen {
		return v.add(token)
	}
	return UnkID
}

// IDOf is a closed lookup: known tokens return their ID, unknown
// tokens return UnkID, the vocabulary never changes.
func (v *Vocabulary) IDOf(token string) int64 {
	return v.GetIdx(token, false)
}

// TokenOf returns the token for an ID.
func (v *Vocabulary) TokenOf(id int64) (string, error) {
	if id < 0 || int(id) >= len(v.idToToken) {
		return "", fmt.Errorf("vocab: id %d out of range [0, %d)", id, len(v.idToToken))
	}
	return v.idToToken[id], nil
}

// Freeze closes the vocabulary. Calling it twice is an error.
func (v *Vocabulary) Freeze() error {
	if v.frozen {
		return fmt.Errorf("vocab: already frozen")
	}
	v.frozen = true
	return nil
}

func (v *Vocabulary) Frozen() bool { return v.frozen }

// Size returns the number of distinct IDs, reserved tokens included.
func (v *Vocabulary) Size() int { return len(v.idToToken) }
