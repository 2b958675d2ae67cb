package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/pkg/anthropic"
)

const validOutput = `{
  "locations": [{"ref": "L1", "name": "Planta Norte", "city": "Monterrey", "state": "NL", "confidence": 92}],
  "waste_streams": [{"name": "Corriente PET", "category": "plastics", "location_ref": "L1", "confidence": 88}]
}`

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput("Here you go:\n```json\n" + validOutput + "\n```")
	require.NoError(t, err)
	require.Len(t, out.Locations, 1)
	assert.Equal(t, "Planta Norte", out.Locations[0].Name)
	require.Len(t, out.WasteStreams, 1)
	assert.Equal(t, "L1", out.WasteStreams[0].LocationRef)
}

func TestParseOutput_SchemaErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"no object":      "sorry, I cannot help",
		"unknown field":  `{"locations": [], "waste_streams": [], "notes": "x"}`,
		"missing name":   `{"locations": [{"city": "Monterrey"}], "waste_streams": []}`,
		"bad confidence": `{"locations": [], "waste_streams": [{"name": "PET", "confidence": 250}]}`,
		"wrong type":     `{"locations": "none", "waste_streams": []}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOutput(text)
			var se *SchemaError
			assert.True(t, errors.As(err, &se), "expected SchemaError, got %v", err)
		})
	}
}

func TestClaudeAgent_ExtractDocument(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 &&
			len(req.Messages[0].Documents) == 1 &&
			req.Messages[0].Documents[0].MediaType == "application/pdf" &&
			req.System != ""
	})).Return(&anthropic.MessageResponse{Text: validOutput}, nil)

	a := NewClaudeAgent(client, "claude-sonnet-4-5-20250929", 0)
	out, err := a.ExtractDocument(context.Background(), []byte("%PDF"), "inventario.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Len(t, out.WasteStreams, 1)
	client.AssertExpectations(t)
}

func TestClaudeAgent_ProviderError(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("input failed validation"))

	a := NewClaudeAgent(client, "m", 100)
	_, err := a.ExtractText(context.Background(), "text", "f.xlsx")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "anthropic", pe.Provider)
	assert.True(t, pe.MentionsSchema())
}

func TestOpenAIAgent_ExtractText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/chat/completions")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": validOutput}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
		})
	}))
	defer ts.Close()

	a := NewOpenAIAgent("test-key", ts.URL, "gpt-4o-mini")
	out, err := a.ExtractText(context.Background(), "Planta Norte | Monterrey | NL", "sitios.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "Corriente PET", out.WasteStreams[0].Name)
}

func TestOpenAIAgent_ProviderStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer ts.Close()

	a := NewOpenAIAgent("test-key", ts.URL, "gpt-4o-mini")
	_, err := a.ExtractText(context.Background(), "x", "f.docx")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

type stubAgent struct {
	err   error
	calls int
}

func (s *stubAgent) ExtractDocument(_ context.Context, _ []byte, _, _ string) (*Output, error) {
	s.calls++
	return &Output{}, s.err
}

func (s *stubAgent) ExtractText(_ context.Context, _, _ string) (*Output, error) {
	s.calls++
	return &Output{}, s.err
}

func TestGuarded_BreakerOpensOnProviderErrors(t *testing.T) {
	inner := &stubAgent{err: &ProviderError{Provider: "anthropic", Err: errors.New("overloaded")}}
	g := NewGuarded(inner, 0, resilience.CircuitBreakerConfig{FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		_, _ = g.ExtractText(context.Background(), "x", "f")
	}
	_, err := g.ExtractText(context.Background(), "x", "f")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, inner.calls)
}

func TestGuarded_SchemaErrorsDoNotTrip(t *testing.T) {
	inner := &stubAgent{err: &SchemaError{Err: errors.New("bad")}}
	g := NewGuarded(inner, 0, resilience.CircuitBreakerConfig{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		_, _ = g.ExtractDocument(context.Background(), nil, "f", "application/pdf")
	}
	assert.Equal(t, 3, inner.calls)
}

func TestGuarded_RateWaitPastDeadlineIsTimeout(t *testing.T) {
	inner := &stubAgent{}
	g := NewGuarded(inner, 1, resilience.CircuitBreakerConfig{FailureThreshold: 5})

	_, err := g.ExtractText(context.Background(), "x", "f")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.ExtractText(ctx, "x", "f")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestComposite(t *testing.T) {
	doc := &stubAgent{}
	text := &stubAgent{}
	var a Agent = Composite{DocumentAgent: doc, TextAgent: text}

	_, _ = a.ExtractText(context.Background(), "x", "f")
	assert.Equal(t, 1, text.calls)
	assert.Equal(t, 0, doc.calls)
}
