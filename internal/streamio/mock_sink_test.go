package streamio

import (
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockSink is a hand-written stand-in for what `mockgen -source stream.go`
// would generate for the Sink interface, used in scatter_test.go to assert
// exact write sequences with gomock's call-matching instead of a bespoke
// fake type.
type MockSink struct {
	ctrl     *gomock.Controller
	recorder *MockSinkMockRecorder
}

type MockSinkMockRecorder struct {
	mock *MockSink
}

func NewMockSink(ctrl *gomock.Controller) *MockSink {
	mock := &MockSink{ctrl: ctrl}
	mock.recorder = &MockSinkMockRecorder{mock}
	return mock
}

func (m *MockSink) EXPECT() *MockSinkMockRecorder {
	return m.recorder
}

func (m *MockSink) Write(p []byte) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Write", p)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockSinkMockRecorder) Write(p interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Write", reflect.TypeOf((*MockSink)(nil).Write), p)
}
