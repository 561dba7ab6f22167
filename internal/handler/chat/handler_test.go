package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thutuc-assistant/rag-chat/backend/internal/model/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/ai"
	chatservice "github.com/thutuc-assistant/rag-chat/backend/internal/service/chat"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag"
	"github.com/thutuc-assistant/rag-chat/backend/internal/service/rag/ragtest"
)

func setupRouter(retriever rag.Retriever) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(0, 0)
	gen := &ragtest.Generator{Streaming: true, Fragments: []string{"Cần ", "tờ khai."}}
	pipeline := rag.New(chatSvc, retriever, gen, rag.WithLogger(zap.NewNop()))
	handler := New(chatSvc, pipeline, zap.NewNop())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionDefaultsTopK(t *testing.T) {
	r, _ := setupRouter(&ragtest.Retriever{})

	resp := doJSON(t, r, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var session chat.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, chat.DefaultTopK, session.TopK)
}

func TestCreateSessionAppliesOperatorDefaultTopK(t *testing.T) {
	chatSvc := chatservice.NewService(0, 5)
	r := chi.NewRouter()
	New(chatSvc, nil, zap.NewNop()).RegisterRoutes(r)

	resp := doJSON(t, r, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var session chat.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &session))
	assert.Equal(t, 5, session.TopK)

	resp = doJSON(t, r, http.MethodPost, "/session", map[string]int{"topK": 8})
	require.Equal(t, http.StatusCreated, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &session))
	assert.Equal(t, 8, session.TopK)
}

func TestCreateSessionInvalidBody(t *testing.T) {
	r, _ := setupRouter(&ragtest.Retriever{})

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader("{"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateSessionTopK(t *testing.T) {
	r, chatSvc := setupRouter(&ragtest.Retriever{})
	session, err := chatSvc.CreateSession(context.Background(), 3)
	require.NoError(t, err)

	resp := doJSON(t, r, http.MethodPatch, "/session/"+session.ID, map[string]int{"topK": 7})
	require.Equal(t, http.StatusOK, resp.Code)

	got, err := chatSvc.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.TopK)

	resp = doJSON(t, r, http.MethodPatch, "/session/"+session.ID, map[string]int{"topK": 11})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, r, http.MethodPatch, "/session/missing", map[string]int{"topK": 2})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAskRecordsBothTurns(t *testing.T) {
	r, chatSvc := setupRouter(&ragtest.Retriever{Chunks: ragtest.Chunks("khai-sinh")})
	session, _ := chatSvc.CreateSession(context.Background(), 3)

	resp := doJSON(t, r, http.MethodPost, "/ask", map[string]string{"sessionId": session.ID, "message": "Cần giấy tờ gì?"})
	require.Equal(t, http.StatusOK, resp.Code)

	var turn chat.Turn
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &turn))
	assert.Equal(t, "Cần tờ khai.", turn.Content)
	assert.Equal(t, chat.StatusComplete, turn.Status)
	require.Len(t, turn.Sources, 1)

	resp = doJSON(t, r, http.MethodGet, "/session/"+session.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var transcript transcriptResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &transcript))
	require.Len(t, transcript.Turns, 2)
	assert.Equal(t, "Cần giấy tờ gì?", transcript.Turns[0].Content)
	assert.Equal(t, chat.RoleAssistant, transcript.Turns[1].Role)
}

func TestAskRefusesWithoutContext(t *testing.T) {
	r, chatSvc := setupRouter(&ragtest.Retriever{})
	session, _ := chatSvc.CreateSession(context.Background(), 3)

	resp := doJSON(t, r, http.MethodPost, "/ask", map[string]string{"sessionId": session.ID, "message": "Thời tiết hôm nay?"})
	require.Equal(t, http.StatusOK, resp.Code)

	var turn chat.Turn
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &turn))
	assert.Equal(t, ai.RefusalMessage, turn.Content)
}

func TestAskValidation(t *testing.T) {
	r, chatSvc := setupRouter(&ragtest.Retriever{})
	session, _ := chatSvc.CreateSession(context.Background(), 3)

	resp := doJSON(t, r, http.MethodPost, "/ask", map[string]string{"sessionId": session.ID, "message": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, r, http.MethodPost, "/ask", map[string]string{"message": "q"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, r, http.MethodPost, "/ask", map[string]string{"sessionId": "missing", "message": "q"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAskWithoutPipeline(t *testing.T) {
	handler := New(chatservice.NewService(0, 0), nil, nil)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	resp := doJSON(t, r, http.MethodPost, "/ask", map[string]string{"sessionId": "x", "message": "q"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestEndSession(t *testing.T) {
	r, chatSvc := setupRouter(&ragtest.Retriever{})
	session, _ := chatSvc.CreateSession(context.Background(), 3)

	resp := doJSON(t, r, http.MethodDelete, "/session/"+session.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = doJSON(t, r, http.MethodGet, "/session/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
