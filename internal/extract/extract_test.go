package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
)

type mockAgent struct {
	mock.Mock
}

func (m *mockAgent) ExtractDocument(ctx context.Context, data []byte, filename, mediaType string) (*agent.Output, error) {
	args := m.Called(ctx, data, filename, mediaType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Output), args.Error(1)
}

func (m *mockAgent) ExtractText(ctx context.Context, text, filename string) (*agent.Output, error) {
	args := m.Called(ctx, text, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Output), args.Error(1)
}

type mockText struct {
	mock.Mock
}

func (m *mockText) Extract(ctx context.Context, kind parser.Kind, data []byte) (parser.Result, error) {
	args := m.Called(ctx, kind, data)
	return args.Get(0).(parser.Result), args.Error(1)
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

func sampleOutput() *agent.Output {
	return &agent.Output{
		Locations: []agent.LocationCandidate{
			{Ref: "L1", Name: "Planta Norte", City: "Monterrey", State: "NL", Confidence: 90},
		},
		WasteStreams: []agent.StreamCandidate{
			{Name: "PET Enero 2026", Category: "plastics", LocationRef: "L1", Confidence: 80},
			{Name: "PET Febrero 2026", Category: "plastics", LocationRef: "L1", Confidence: 85},
		},
	}
}

func TestAdapter_PDFRoute(t *testing.T) {
	a := &mockAgent{}
	a.On("ExtractDocument", mock.Anything, pdfBytes, "inventario.PDF", "application/pdf").Return(sampleOutput(), nil)

	res, err := NewAdapter(a, &mockText{}, time.Second).Extract(context.Background(), pdfBytes, "inventario.PDF")
	require.NoError(t, err)
	assert.Equal(t, RoutePDFBinary, res.Diagnostics.Route)
	assert.Equal(t, 2, res.Diagnostics.StreamsIn)
	assert.Equal(t, 1, res.Diagnostics.StreamsOut)
	require.Len(t, res.Rows, 2)
	assert.Nil(t, res.Rows[0].ProjectData)
	require.NotNil(t, res.Rows[1].LocationData)
	assert.Equal(t, "Planta Norte", res.Rows[1].LocationData.Name)
	assert.Equal(t, 85, res.Rows[1].Confidence)
	a.AssertExpectations(t)
}

func TestAdapter_ReportsStreamStep(t *testing.T) {
	a := &mockAgent{}
	a.On("ExtractDocument", mock.Anything, pdfBytes, "f.pdf", "application/pdf").Return(sampleOutput(), nil)

	var steps []model.ProgressStep
	res, err := NewAdapter(a, &mockText{}, time.Second).Extract(context.Background(), pdfBytes, "f.pdf",
		OnStep(func(_ context.Context, step model.ProgressStep) error {
			steps = append(steps, step)
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, []model.ProgressStep{model.StepExtractingStreams}, steps)

	lost := errors.New("lease lost")
	_, err = NewAdapter(a, &mockText{}, time.Second).Extract(context.Background(), pdfBytes, "f.pdf",
		OnStep(func(context.Context, model.ProgressStep) error { return lost }),
	)
	assert.ErrorIs(t, err, lost)
}

func TestAdapter_PDFWithWrongContent(t *testing.T) {
	_, err := NewAdapter(&mockAgent{}, &mockText{}, time.Second).Extract(context.Background(), []byte("hello world"), "x.pdf")
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, CodeUnsupportedFileType, ee.Code)
}

func TestAdapter_TextRoute(t *testing.T) {
	a := &mockAgent{}
	txt := &mockText{}
	data := []byte("xlsx-bytes")
	txt.On("Extract", mock.Anything, parser.KindXLSX, data).Return(parser.Result{Text: "Planta Norte | Monterrey", CharCount: 24}, nil)
	a.On("ExtractText", mock.Anything, "Planta Norte | Monterrey", "sitios.xlsx").Return(sampleOutput(), nil)

	res, err := NewAdapter(a, txt, time.Second).Extract(context.Background(), data, "sitios.xlsx")
	require.NoError(t, err)
	assert.Equal(t, RouteXLSXText, res.Diagnostics.Route)
	assert.Equal(t, 24, res.Diagnostics.CharCount)
	assert.Len(t, res.Rows, 2)
}

func TestAdapter_EmptyTextSkipsAgent(t *testing.T) {
	a := &mockAgent{}
	txt := &mockText{}
	txt.On("Extract", mock.Anything, parser.KindDOCX, mock.Anything).Return(parser.Result{Text: "  \n "}, nil)

	res, err := NewAdapter(a, txt, time.Second).Extract(context.Background(), []byte("docx"), "notas.docx")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	a.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdapter_ParserErrorsPassThrough(t *testing.T) {
	txt := &mockText{}
	txt.On("Extract", mock.Anything, parser.KindXLSX, mock.Anything).
		Return(parser.Result{}, &parser.LimitError{Code: parser.CodeMaxRows, Limit: 10})

	_, err := NewAdapter(&mockAgent{}, txt, time.Second).Extract(context.Background(), []byte("x"), "big.xlsx")
	var le *parser.LimitError
	require.True(t, errors.As(err, &le))
}

func TestAdapter_RoutingErrors(t *testing.T) {
	ad := NewAdapter(&mockAgent{}, &mockText{}, time.Second)
	tests := map[string]struct {
		data     []byte
		filename string
		code     string
	}{
		"empty":       {nil, "a.pdf", CodeEmptyFile},
		"legacy xls":  {[]byte("x"), "old.XLS", CodeLegacyXLS},
		"unsupported": {[]byte("x"), "notes.txt", CodeUnsupportedFileType},
		"no ext":      {[]byte("x"), "README", CodeUnsupportedFileType},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ad.Extract(context.Background(), tt.data, tt.filename)
			var ee *Error
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.code, ee.Code)
			assert.False(t, ee.Retryable())
		})
	}
}

func TestAdapter_AgentErrorCodes(t *testing.T) {
	tests := map[string]struct {
		err  error
		code string
	}{
		"schema":              {&agent.SchemaError{Err: errors.New("missing name")}, CodeAISchemaInvalid},
		"provider validation": {&agent.ProviderError{Provider: "anthropic", Err: errors.New("request validation failed")}, CodeAISchemaInvalid},
		"provider":            {&agent.ProviderError{Provider: "anthropic", StatusCode: 529, Err: errors.New("overloaded")}, CodeAIProviderError},
		"deadline":            {fmt.Errorf("call: %w", context.DeadlineExceeded), CodeAITimeout},
		"other":               {errors.New("boom"), CodeAIProviderError},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			a := &mockAgent{}
			a.On("ExtractDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewAdapter(a, &mockText{}, time.Second).Extract(context.Background(), pdfBytes, "f.pdf")
			var ee *Error
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.code, ee.Code)
			assert.True(t, ee.Retryable())
		})
	}
}

func TestAdapter_Timeout(t *testing.T) {
	a := &mockAgent{}
	a.On("ExtractDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(500 * time.Millisecond) }).
		Return(sampleOutput(), nil)

	start := time.Now()
	_, err := NewAdapter(a, &mockText{}, 50*time.Millisecond).Extract(context.Background(), pdfBytes, "slow.pdf")
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, CodeAITimeout, ee.Code)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestAdapter_ParentCancelled(t *testing.T) {
	a := &mockAgent{}
	a.On("ExtractDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := NewAdapter(a, &mockText{}, time.Minute).Extract(ctx, pdfBytes, "f.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildRows_UnknownLocationRef(t *testing.T) {
	rows := BuildRows(nil, []agent.StreamCandidate{{Name: "Lodos", LocationRef: "missing", Confidence: 0.5}})
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].LocationData)
	assert.Equal(t, 50, rows[0].Confidence)
}

func TestBuildRows_StreamMatchesLocationByName(t *testing.T) {
	rows := BuildRows(
		[]agent.LocationCandidate{{Name: "Bodega Sur", City: "Puebla", State: "PUE"}},
		[]agent.StreamCandidate{{Name: "Cartón", LocationRef: "bodega sur"}},
	)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[1].LocationData)
	assert.Equal(t, "Bodega Sur", rows[1].LocationData.Name)
}

func TestSupportedExtension(t *testing.T) {
	assert.True(t, SupportedExtension(".PDF"))
	assert.True(t, SupportedExtension(".xlsx"))
	assert.True(t, SupportedExtension(".docx"))
	assert.False(t, SupportedExtension(".xls"))
	assert.False(t, SupportedExtension(".csv"))
}
