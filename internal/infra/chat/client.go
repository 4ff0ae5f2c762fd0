package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"voicecall/internal/domain"
	"voicecall/internal/infra"
	"voicecall/internal/metrics"
)

const (
	endpointStart   = "/api/chat/start"
	endpointMessage = "/api/chat/message"
	endpointVoice   = "/api/voice/chat"
)

type startResponse struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type messageRequest struct {
	UserInput   string           `json:"userInput"`
	ChatHistory []domain.Message `json:"chatHistory"`
	Memory      string           `json:"memory"`
	SessionID   string           `json:"sessionId,omitempty"`
}

type voiceRequest struct {
	AudioData   string           `json:"audioData"`
	ChatHistory []domain.Message `json:"chatHistory"`
	Memory      string           `json:"memory"`
	SessionID   string           `json:"sessionId,omitempty"`
}

type turnResponse struct {
	ResponseText   string  `json:"response_text"`
	AudioFilePath  string  `json:"audio_file_path"`
	Transcript     string  `json:"transcript"`
	Memory         string  `json:"memory"`
	ProcessingTime float64 `json:"processing_time"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Client talks to the conversational backend over JSON. The backend is
// stateless; the client carries each session's memory between turns.
type Client struct {
	http    *resty.Client
	retry   infra.RetryConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	memory map[string]string
}

func NewClient(baseURL string, timeout time.Duration, retry infra.RetryConfig, logger *slog.Logger, m *metrics.Metrics) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		retry:   retry,
		logger:  logger.With("component", "chat"),
		metrics: m,
		memory:  make(map[string]string),
	}
}

// StartSession opens a conversation. Backends that do not assign session ids
// get a locally generated one.
func (c *Client) StartSession(ctx context.Context) (*domain.Session, error) {
	var out startResponse
	if err := c.post(ctx, endpointStart, nil, &out); err != nil {
		return nil, fmt.Errorf("starting chat: %w", err)
	}

	id := out.SessionID
	if id == "" {
		id = uuid.NewString()
		c.logger.Debug("backend assigned no session id, generated one", "session", id)
	}

	c.logger.Info("chat started", "session", id, "message", out.Message)
	return &domain.Session{ID: id}, nil
}

func (c *Client) SendTurn(ctx context.Context, text string, history []domain.Message, sessionID string) (*domain.Turn, error) {
	req := messageRequest{
		UserInput:   text,
		ChatHistory: nonNil(history),
		Memory:      c.memoryFor(sessionID),
		SessionID:   sessionID,
	}

	var out turnResponse
	if err := c.post(ctx, endpointMessage, req, &out); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	return c.turn(sessionID, out), nil
}

func (c *Client) SendVoice(ctx context.Context, audio *domain.CapturedAudio, history []domain.Message, sessionID string) (*domain.Turn, error) {
	req := voiceRequest{
		AudioData:   audio.Base64(),
		ChatHistory: nonNil(history),
		Memory:      c.memoryFor(sessionID),
		SessionID:   sessionID,
	}

	var out turnResponse
	if err := c.post(ctx, endpointVoice, req, &out); err != nil {
		return nil, fmt.Errorf("sending voice: %w", err)
	}

	return c.turn(sessionID, out), nil
}

func (c *Client) turn(sessionID string, out turnResponse) *domain.Turn {
	if out.Memory != "" {
		c.mu.Lock()
		c.memory[sessionID] = out.Memory
		c.mu.Unlock()
	}
	if out.ProcessingTime > 0 {
		c.logger.Debug("backend processing time", "seconds", out.ProcessingTime)
	}
	return &domain.Turn{
		Transcript:   out.Transcript,
		ResponseText: out.ResponseText,
		AudioRef:     out.AudioFilePath,
	}
}

func (c *Client) memoryFor(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory[sessionID]
}

func (c *Client) post(ctx context.Context, endpoint string, body, result any) error {
	return infra.WithRetry(ctx, c.retry, func() error {
		start := time.Now()

		req := c.http.R().
			SetContext(ctx).
			SetResult(result).
			SetError(&errorResponse{})
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Post(endpoint)
		if err != nil {
			c.metrics.RecordBackendRequest(endpoint, "error", time.Since(start))
			return fmt.Errorf("sending request: %w", err)
		}
		c.metrics.RecordBackendRequest(endpoint, fmt.Sprint(resp.StatusCode()), time.Since(start))

		if !resp.IsError() {
			return nil
		}

		msg := resp.String()
		if apiErr, ok := resp.Error().(*errorResponse); ok && apiErr.Error != "" {
			msg = apiErr.Error
			if apiErr.Detail != "" {
				msg += ": " + apiErr.Detail
			}
		}

		if infra.IsRetryableHTTPStatus(resp.StatusCode()) {
			return fmt.Errorf("backend error %d (retryable): %s", resp.StatusCode(), msg)
		}
		return infra.Permanent(fmt.Errorf("backend error %d: %s", resp.StatusCode(), msg))
	})
}

func nonNil(history []domain.Message) []domain.Message {
	if history == nil {
		return []domain.Message{}
	}
	return history
}
