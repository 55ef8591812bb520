package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
)

// ConsoleInput is a conversation.SpeechInput fed by lines of text. Each
// line is delivered as a complete hypothesis. Lines starting with "/" and
// lines read while closed go to Unhandled instead, if set. End of input ends
// the open session.
type ConsoleInput struct {
	r    io.Reader
	once sync.Once
	done chan struct{}

	Unhandled func(line string)

	mu      sync.Mutex
	handler conversation.RecognitionHandler
	eof     bool
}

func NewConsoleInput(r io.Reader) *ConsoleInput {
	return &ConsoleInput{r: r, done: make(chan struct{})}
}

// Done is closed once the reader is exhausted.
func (c *ConsoleInput) Done() <-chan struct{} { return c.done }

// Open implements conversation.SpeechInput.
func (c *ConsoleInput) Open(_ context.Context, _ conversation.RecognitionOptions, h conversation.RecognitionHandler) error {
	c.mu.Lock()
	if c.eof {
		c.mu.Unlock()
		return io.EOF
	}
	c.handler = h
	c.mu.Unlock()

	c.once.Do(func() { go c.read() })
	return nil
}

// Close implements conversation.SpeechInput.
func (c *ConsoleInput) Close() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

func (c *ConsoleInput) read() {
	sc := bufio.NewScanner(c.r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		switch {
		case h != nil && !strings.HasPrefix(line, "/"):
			h.OnRecognitionUpdate([]string{line})
		case c.Unhandled != nil:
			c.Unhandled(line)
		}
	}

	c.mu.Lock()
	c.eof = true
	h := c.handler
	c.handler = nil
	c.mu.Unlock()
	close(c.done)
	if h != nil {
		h.OnRecognitionEnd()
	}
}

// ConsoleOutput is a conversation.SpeechOutput that prints replies.
type ConsoleOutput struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func NewConsoleOutput(w io.Writer, prefix string) *ConsoleOutput {
	return &ConsoleOutput{w: w, prefix: prefix}
}

// Speak implements conversation.SpeechOutput.
func (c *ConsoleOutput) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s%s\n", c.prefix, text)
	return err
}
