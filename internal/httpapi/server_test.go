package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-relay/broker/internal/events"
	"github.com/agent-relay/broker/internal/logging"
	"github.com/agent-relay/broker/internal/protocol"
)

type fakeDispatcher struct {
	lastOp     string
	lastFields map[string]interface{}
	result     map[string]interface{}
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req protocol.Request) (map[string]interface{}, error) {
	f.lastOp = req.Op
	f.lastFields = req.Fields
	return f.result, f.err
}

func newTestServer(disp *fakeDispatcher) *Server {
	bus, _ := events.New("", 10, logging.Default())
	return New(disp, bus, logging.Default())
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeDispatcher{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpHandler_ListAgentsDispatchesWithNoBody(t *testing.T) {
	disp := &fakeDispatcher{result: map[string]interface{}{"agents": []interface{}{}}}
	s := newTestServer(disp)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list_agents", disp.lastOp)
}

func TestOpHandler_SendMessagePassesBodyFields(t *testing.T) {
	disp := &fakeDispatcher{result: map[string]interface{}{"event_id": "abc"}}
	s := newTestServer(disp)

	body := strings.NewReader(`{"to":"alice","text":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "send_message", disp.lastOp)
	assert.Equal(t, "alice", disp.lastFields["to"])
}

func TestHandleRelease_PassesNameParam(t *testing.T) {
	disp := &fakeDispatcher{result: map[string]interface{}{"name": "alice"}}
	s := newTestServer(disp)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/agents/alice", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "release", disp.lastOp)
	assert.Equal(t, "alice", disp.lastFields["name"])
}

func TestDispatch_MapsAgentNotFoundToHTTP404(t *testing.T) {
	disp := &fakeDispatcher{err: protocol.NewError(protocol.CodeAgentNotFound, "no such agent")}
	s := newTestServer(disp)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/ghost", nil)
	req.Method = http.MethodDelete
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusForCode(protocol.CodeAgentNotFound))
	require.Equal(t, http.StatusConflict, statusForCode(protocol.CodeDuplicateAgent))
	require.Equal(t, http.StatusBadRequest, statusForCode(protocol.CodeInvalidRequest))
	require.Equal(t, http.StatusForbidden, statusForCode(protocol.CodeACLDenied))
	require.Equal(t, http.StatusGatewayTimeout, statusForCode(protocol.CodeTimeout))
	require.Equal(t, http.StatusInternalServerError, statusForCode(protocol.CodeInternalError))
}
