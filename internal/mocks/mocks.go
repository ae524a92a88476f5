// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return m.Called().Error(0) }

// -- Browser Session Mock --

// MockBrowserSession implements schemas.BrowserSession for testing.
type MockBrowserSession struct {
	mock.Mock
}

func (m *MockBrowserSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockBrowserSession) Snapshot(ctx context.Context) (schemas.PageSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.PageSnapshot), args.Error(1)
}
func (m *MockBrowserSession) Click(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}
func (m *MockBrowserSession) Type(ctx context.Context, ref, text string) error {
	return m.Called(ctx, ref, text).Error(0)
}
func (m *MockBrowserSession) Scroll(ctx context.Context, dir schemas.ScrollDirection) error {
	return m.Called(ctx, dir).Error(0)
}
func (m *MockBrowserSession) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockBrowserSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockBrowserSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	buf, _ := args.Get(0).([]byte)
	return buf, args.Error(1)
}
func (m *MockBrowserSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Report Store Mock --

// MockReportStore is an in-memory schemas.ReportStore that also records calls.
type MockReportStore struct {
	mock.Mock
	mu      sync.Mutex
	reports map[string]*schemas.SessionReport
}

// NewMockReportStore returns a store with no reports.
func NewMockReportStore() *MockReportStore {
	return &MockReportStore{reports: make(map[string]*schemas.SessionReport)}
}

func (m *MockReportStore) Save(ctx context.Context, report *schemas.SessionReport) error {
	if err := m.Called(ctx, report).Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *report
	m.reports[report.SessionID] = &cp
	return nil
}

func (m *MockReportStore) Load(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[sessionID]
	if !ok {
		return nil, schemas.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockReportStore) Close() error { return nil }
