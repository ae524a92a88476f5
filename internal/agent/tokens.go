package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts text with the cl100k_base encoding, falling back to an
// estimate of four characters per token when the encoding is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
