package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/lokutor-ai/lokutor-realtime/pkg/orchestrator"
)

var (
	accent = lipgloss.Color("#00ff9f")
	dim    = lipgloss.Color("#6e7681")
	warn   = lipgloss.Color("#ffb86c")
	danger = lipgloss.Color("#ff5555")

	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	helpStyle  = lipgloss.NewStyle().Foreground(dim)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(warn)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(danger)
)

// console prints one styled status line per notable session event and
// assembles assistant transcripts from their deltas.
type console struct {
	out io.Writer

	mu         sync.Mutex
	transcript strings.Builder
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) banner(cfg *agentConfig) {
	fmt.Fprintln(c.out, labelStyle.Render("lokutor realtime"))
	fmt.Fprintln(c.out, helpStyle.Render(fmt.Sprintf(
		"voice=%s  threshold=%.3f  capture=%dHz  playback=%dHz",
		cfg.Session.Voice, cfg.Session.VADThreshold,
		cfg.Session.CaptureSampleRate, cfg.Session.PlaybackSampleRate)))
	fmt.Fprintln(c.out, helpStyle.Render("Listening to microphone. Press Ctrl+C to exit."))
}

func (c *console) line(style lipgloss.Style, label, text string) {
	if text == "" {
		fmt.Fprintln(c.out, style.Render("["+label+"]"))
		return
	}
	fmt.Fprintln(c.out, style.Render("["+label+"]")+" "+text)
}

func (c *console) interrupted(responseID string) {
	c.line(warnStyle, "INTERRUPTED", helpStyle.Render(responseID))
}

// event is registered as the session's event observer.
func (c *console) event(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventBufferCommitted:
		c.line(labelStyle, "USER", "utterance sent")
	case orchestrator.EventResponseCreated:
		c.mu.Lock()
		c.transcript.Reset()
		c.mu.Unlock()
		c.line(labelStyle, "ASSISTANT", "thinking...")
	case orchestrator.EventTranscriptDelta, orchestrator.EventTextDelta:
		c.mu.Lock()
		c.transcript.WriteString(ev.Str("delta"))
		c.mu.Unlock()
	case orchestrator.EventResponseDone:
		c.mu.Lock()
		text := c.transcript.String()
		c.transcript.Reset()
		c.mu.Unlock()
		if text != "" {
			c.line(labelStyle, "TRANSCRIPT", text)
		}
	case orchestrator.EventError:
		if se := ev.ServiceError(); se != nil {
			c.line(errorStyle, "ERROR", se.Error())
		}
	}
}
