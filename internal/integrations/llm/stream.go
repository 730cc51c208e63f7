package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	sseDataPrefix   = "data:"
	sseDoneSentinel = "[DONE]"
	maxSSELineBytes = 4 * 1024 * 1024
)

// StreamError is an error object the endpoint emitted inside an otherwise
// healthy event stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type streamResult struct {
	text  string
	usage Usage
	err   error
}

// AssembleSSE concatenates the content deltas of an OpenAI-compatible event
// stream until the [DONE] sentinel or end of input. Lines that are not data
// events or do not decode are skipped. The result does not depend on how the
// transport splits the bytes.
//
// If ctx is cancelled the partial buffer is discarded and ctx.Err() is
// returned. When body is an io.Closer it is closed so the reader stops.
func AssembleSSE(ctx context.Context, body io.Reader) (string, Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}

	done := make(chan streamResult, 1)
	go func() {
		done <- scanSSE(ctx, body)
	}()

	select {
	case res := <-done:
		if err := ctx.Err(); err != nil {
			return "", Usage{}, err
		}
		return res.text, res.usage, res.err
	case <-ctx.Done():
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
			<-done
		}
		return "", Usage{}, ctx.Err()
	}
}

func scanSSE(ctx context.Context, body io.Reader) streamResult {
	var (
		text  strings.Builder
		usage Usage
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return streamResult{err: ctx.Err()}
		}
		payload, ok := ssePayload(scanner.Text())
		if !ok {
			continue
		}
		if payload == sseDoneSentinel {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return streamResult{err: &StreamError{Message: chunk.Error.Message}}
		}
		if chunk.Usage != nil {
			usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return streamResult{err: fmt.Errorf("reading event stream: %w", err)}
	}
	return streamResult{text: text.String(), usage: usage}
}

func ssePayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix)), true
}
