// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/session"
)

// -- Page Mock --

// MockPage mocks browser.Page with testify expectations. Prefer FakePage for
// multi-step flows; MockPage suits call-order assertions.
type MockPage struct {
	mock.Mock
}

var _ browser.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) WaitVisible(ctx context.Context, q browser.Query) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockPage) Exists(ctx context.Context, q browser.Query) (bool, error) {
	args := m.Called(ctx, q)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, q browser.Query) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockPage) Fill(ctx context.Context, q browser.Query, text string) error {
	args := m.Called(ctx, q, text)
	return args.Error(0)
}

func (m *MockPage) SelectOption(ctx context.Context, q browser.Query, option string) error {
	args := m.Called(ctx, q, option)
	return args.Error(0)
}

func (m *MockPage) PressEnter(ctx context.Context, q browser.Query) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockPage) Text(ctx context.Context, q browser.Query) (string, error) {
	args := m.Called(ctx, q)
	return args.String(0), args.Error(1)
}

func (m *MockPage) OuterHTML(ctx context.Context, q browser.Query) (string, error) {
	args := m.Called(ctx, q)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Location(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	args := m.Called(ctx, fullPage)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	args := m.Called(ctx)
	if c := args.Get(0); c != nil {
		return c.([]session.Cookie), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	args := m.Called(ctx, cookies)
	return args.Error(0)
}
