package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

var (
	encodingForModel = tiktoken.EncodingForModel
	getEncoding      = tiktoken.GetEncoding
)

// encoders maps a model name to its encoderEntry. A nil enc records that no
// encoding could be loaded, so the lookup is not repeated.
var encoders sync.Map

type encoderEntry struct {
	enc *tiktoken.Tiktoken
}

// CountTokens estimates how many tokens text uses for model. Models tiktoken
// does not know are counted with cl100k_base; if no encoding can be loaded
// the estimate is one token per four bytes.
func CountTokens(model, text string) int {
	entry, ok := encoders.Load(model)
	if !ok {
		entry, _ = encoders.LoadOrStore(model, loadEncoder(model))
	}
	enc := entry.(encoderEntry).enc
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func loadEncoder(model string) encoderEntry {
	enc, err := encodingForModel(model)
	if err != nil {
		enc, err = getEncoding(fallbackEncoding)
	}
	if err != nil {
		return encoderEntry{}
	}
	return encoderEntry{enc: enc}
}
