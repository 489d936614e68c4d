// SPDX-License-Identifier: Apache-2.0

package quicwire

import (
	"context"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) AcceptStream(ctx context.Context) (Stream, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(Stream)
	return s, args.Error(1)
}

func (m *mockConnection) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(ReceiveStream)
	return s, args.Error(1)
}

func (m *mockConnection) OpenStream() (Stream, error) {
	args := m.Called()
	s, _ := args.Get(0).(Stream)
	return s, args.Error(1)
}

func (m *mockConnection) OpenUniStream() (SendStream, error) {
	args := m.Called()
	s, _ := args.Get(0).(SendStream)
	return s, args.Error(1)
}

func (m *mockConnection) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	args := m.Called(code, msg)
	return args.Error(0)
}

func (m *mockConnection) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

func TestConnectionInterfaceSatisfiedByMock(t *testing.T) {
	var c Connection = &mockConnection{}
	assert.NotNil(t, c)
}

func TestMockConnectionCloseWithError(t *testing.T) {
	m := &mockConnection{}
	m.On("CloseWithError", quic.ApplicationErrorCode(1), "bye").Return(nil)

	var c Connection = m
	assert.NoError(t, c.CloseWithError(1, "bye"))
	m.AssertExpectations(t)
}
