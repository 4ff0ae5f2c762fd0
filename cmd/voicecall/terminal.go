package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"voicecall/internal/application"
	"voicecall/internal/domain"
	"voicecall/internal/recording"
)

const meterWidth = 20

const help = `commands:
  <text>    send a message
  /voice    start recording, /voice again to send
  /stop     stop the current response
  /history  show the conversation
  /quit     end the call`

// terminal renders call state on a line-oriented console.
type terminal struct {
	out io.Writer

	mu             sync.Mutex
	lastLevel      int
	recordingShown bool
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, lastLevel: -1}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// playback draws a volume meter, redrawing only when the bar changes.
func (t *terminal) playback(s domain.PlaybackState) {
	level := -1
	if s.IsPlaying {
		level = int(s.Volume / 100 * meterWidth)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if level == t.lastLevel {
		return
	}
	t.lastLevel = level

	if level < 0 {
		fmt.Fprint(t.out, "\r\033[K")
		return
	}
	fmt.Fprintf(t.out, "\r\033[K🔊 [%-*s]", meterWidth, strings.Repeat("█", level))
}

func (t *terminal) recording(s domain.RecordingState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s.Phase {
	case domain.RecordingActive:
		t.recordingShown = true
		fmt.Fprintf(t.out, "\r\033[K🎙  recording %s", recording.FormatElapsed(s.ElapsedSeconds))
	case domain.RecordingFinalizing:
		fmt.Fprint(t.out, "\r\033[K🎙  processing...")
	default:
		if t.recordingShown {
			fmt.Fprint(t.out, "\r\033[K")
		}
		t.recordingShown = false
	}
}

func (t *terminal) playbackError(err error) {
	t.printf("\r\033[K⚠️  audio playback failed: %v\n", err)
}

// loop reads commands until /quit, EOF or ctx is done.
func (t *terminal) loop(ctx context.Context, in io.Reader, call *application.Call) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	t.printf("%s\n> ", help)

	recordingVoice := false
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "/quit":
			return nil
		case "/help":
			t.printf("%s\n", help)
		case "/stop":
			call.StopAudio()
		case "/history":
			for _, msg := range call.History() {
				t.printf("%-9s %s\n", msg.Role+":", msg.Content)
			}
		case "/voice":
			if !recordingVoice {
				if err := call.StartVoice(ctx); err != nil {
					t.reportError(err)
					break
				}
				recordingVoice = true
				break
			}
			recordingVoice = false
			turn, err := call.FinishVoice(ctx)
			t.showTurn(turn, err)
		case "":
		default:
			turn, err := call.SendText(ctx, line)
			t.showTurn(turn, err)
		}

		t.printf("> ")
	}
}

func (t *terminal) showTurn(turn *domain.Turn, err error) {
	if turn != nil {
		if turn.Transcript != "" {
			t.printf("\r\033[Kyou said: %s\n", turn.Transcript)
		}
		reply := turn.ResponseText
		if reply == "" {
			reply = "No response"
		}
		t.printf("\r\033[Kassistant: %s\n", reply)
	} else if err == nil {
		t.printf("\r\033[Knothing was recorded\n")
	}
	if err != nil {
		t.reportError(err)
	}
}

func (t *terminal) reportError(err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		t.printf("\r\033[K⚠️  microphone unavailable: %v\n", err)
	case errors.Is(err, domain.ErrAllCandidatesFailed):
		t.printf("\r\033[K⚠️  response audio could not be loaded: %v\n", err)
	case errors.Is(err, domain.ErrSuperseded):
	default:
		t.printf("\r\033[K⚠️  %v\n", err)
	}
}
