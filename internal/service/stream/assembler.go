// Package stream reassembles OpenAI-style chat completion event streams into
// a single assistant message.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
	readSize   = 4096
)

// Assembler accumulates `data: {...}` frames. It is not safe for concurrent
// use; one Assembler serves one response.
type Assembler struct {
	buf  []byte
	text strings.Builder
	done bool
	held bool // the first buffered line already failed to decode once
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Text returns the content accumulated so far.
func (a *Assembler) Text() string {
	return a.text.String()
}

// Done reports whether the `[DONE]` marker was seen.
func (a *Assembler) Done() bool {
	return a.done
}

// Feed appends chunk to the buffer and processes every complete line in it.
// It returns the full-so-far text after each content delta, in order.
func (a *Assembler) Feed(chunk []byte) []string {
	if a.done {
		return nil
	}
	a.buf = append(a.buf, chunk...)
	return a.drain(false)
}

// Flush processes a trailing line that has no newline terminator. Call it once
// the body reaches EOF.
func (a *Assembler) Flush() []string {
	if a.done || len(a.buf) == 0 {
		return nil
	}
	a.buf = append(a.buf, '\n')
	return a.drain(true)
}

func (a *Assembler) drain(final bool) []string {
	var snapshots []string

	for !a.done {
		idx := bytes.IndexByte(a.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(a.buf[:idx])
		rest := a.buf[idx+1:]

		content, ok := a.parseLine(line)
		if !ok {
			if a.held || final {
				// Second failure on the same line: drop it.
				a.buf = rest
				a.held = false
				continue
			}
			// Keep the line buffered and wait for the next chunk before
			// trying it again.
			a.held = true
			break
		}

		a.buf = rest
		a.held = false
		if content != "" {
			a.text.WriteString(content)
			snapshots = append(snapshots, a.text.String())
		}
	}

	if a.done {
		a.buf = nil
	}
	return snapshots
}

// parseLine returns the delta content for a line. ok is false only when a
// data payload is not valid JSON.
func (a *Assembler) parseLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return "", true
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", true
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		a.done = true
		return "", true
	}

	var frame openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return "", false
	}
	if len(frame.Choices) == 0 {
		return "", true
	}
	return frame.Choices[0].Delta.Content, true
}

// Updates reads body until EOF, `[DONE]` or ctx cancellation, yielding the
// full-so-far text after each delta. Every complete buffered line is handled
// before the next read. The caller owns body and must close it; closing is
// what releases the underlying connection when consumption is abandoned.
//
// The returned sequence reads from body on each iteration, so ranging over it
// a second time continues where the first range stopped.
func (a *Assembler) Updates(ctx context.Context, body io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		buf := make([]byte, readSize)
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			n, err := body.Read(buf)
			if n > 0 {
				for _, snap := range a.Feed(buf[:n]) {
					if !yield(snap, nil) {
						return
					}
				}
				if a.done {
					return
				}
			}

			if errors.Is(err, io.EOF) {
				for _, snap := range a.Flush() {
					if !yield(snap, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield("", err)
				return
			}
		}
	}
}

// Collect drains body and returns the final text.
func Collect(ctx context.Context, body io.Reader) (string, error) {
	asm := NewAssembler()
	for _, err := range asm.Updates(ctx, body) {
		if err != nil {
			return asm.Text(), err
		}
	}
	return asm.Text(), nil
}
