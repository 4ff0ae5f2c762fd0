package application_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecall/internal/application"
	"voicecall/internal/clock"
	"voicecall/internal/domain"
	"voicecall/internal/infra"
	"voicecall/internal/infra/audio"
	"voicecall/internal/infra/chat"
	"voicecall/internal/metrics"
	"voicecall/internal/playback"
	"voicecall/internal/recording"
)

type fakeBackend struct {
	mu         sync.Mutex
	voiceAudio []byte
	messages   []string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	switch r.URL.Path {
	case "/api/chat/start":
		io.WriteString(w, `{"sessionId":"it-1","message":"Call started."}`)
	case "/api/chat/message":
		b.mu.Lock()
		b.messages = append(b.messages, body["userInput"].(string))
		b.mu.Unlock()
		io.WriteString(w, `{"response_text":"Here you go","audio_file_path":"/srv/tts/output.wav"}`)
	case "/api/voice/chat":
		raw, _ := base64.StdEncoding.DecodeString(body["audioData"].(string))
		b.mu.Lock()
		b.voiceAudio = raw
		b.mu.Unlock()
		io.WriteString(w, `{"transcript":"what time is it","response_text":"Noon","audio_file_path":"output.wav"}`)
	default:
		http.NotFound(w, r)
	}
}

func sine(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(12000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestIntegration_TextAndVoiceTurns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics()

	outDir := t.TempDir()
	inDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "output.wav"), audio.EncodeWAV(sine(3200), 16000, 1), 0644))
	voice := audio.EncodeWAV(sine(1600), 16000, 1)
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "question.wav"), voice, 0644))

	backendSrv := &fakeBackend{}
	api := httptest.NewServer(backendSrv)
	defer api.Close()

	assets := httptest.NewServer(audio.NewAssetServer(":0", outDir, logger).Handler())
	defer assets.Close()

	conversation := chat.NewClient(api.URL, 5*time.Second, infra.DefaultRetryConfig(), logger, m)

	sink := audio.NewStreamSink("speaker", audio.NewNullOutput(false), logger)
	controller := playback.NewController(
		sink,
		playback.NewResolver(2*time.Second, logger, m),
		playback.NewGraphOwner(audio.NewPCMContextFactory(), logger),
		logger,
		playback.WithMetrics(m),
	)

	session := recording.NewSession(audio.NewFileMicrophone(inDir, logger), clock.Real(), logger, m)

	candidates, err := application.NewCandidateBuilder(assets.URL, []string{
		"{base}/missing/{ref}?t={ts}",
		"{base}/api/audio/{ref}?t={ts}",
	})
	require.NoError(t, err)

	call := application.NewCall(conversation, controller, session, candidates, logger)
	defer call.Close()

	ctx := context.Background()
	require.NoError(t, call.Start(ctx))
	assert.Equal(t, "it-1", call.SessionID())

	turn, err := call.SendText(ctx, "read me something")
	require.NoError(t, err)
	assert.Equal(t, "Here you go", turn.ResponseText)
	assert.Contains(t, string(controller.Current()), "/api/audio/output.wav?t=")

	require.Eventually(t, func() bool {
		return controller.Phase() == domain.PlaybackIdle
	}, 2*time.Second, 10*time.Millisecond, "playback should end naturally")

	require.NoError(t, call.StartVoice(ctx))
	assert.Equal(t, domain.RecordingActive, session.State().Phase)

	turn, err = call.FinishVoice(ctx)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, "what time is it", turn.Transcript)

	backendSrv.mu.Lock()
	assert.Equal(t, voice, backendSrv.voiceAudio)
	assert.Equal(t, []string{"read me something"}, backendSrv.messages)
	backendSrv.mu.Unlock()

	history := call.History()
	require.Len(t, history, 4)
	assert.Equal(t, domain.VoicePrefix+"what time is it", history[2].Content)
	assert.Equal(t, "Noon", history[3].Content)

	assert.Equal(t, domain.RecordingIdle, session.State().Phase)
	assert.False(t, controller.Degraded())
}
