package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of feed.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, c feed.TrophyChange) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockPublisher) Close() error { return m.Called().Error(0) }

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/trophies", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublishTrophyChange(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(c feed.TrophyChange) bool {
		return c.Player.Tag == "#P0Y" && c.Player.ClanTag == "#2PP" && c.Delta() == 32
	})).Return(nil)

	rec := post(t, routes(pub, logger.Nop()),
		`{"player_tag":"p0y","player_name":"Alice","clan_tag":"2pp","old_trophies":5000,"new_trophies":5032}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	decoded, err := feed.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Alice", decoded.Player.Name)
	pub.AssertExpectations(t)
}

func TestPublishRejectsBadInput(t *testing.T) {
	pub := new(MockPublisher)
	h := routes(pub, logger.Nop())

	assert.Equal(t, http.StatusBadRequest, post(t, h, `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, `{"player_tag":"  "}`).Code)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPublishBrokerFailure(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("no brokers"))

	rec := post(t, routes(pub, logger.Nop()), `{"player_tag":"#P0Y","old_trophies":1,"new_trophies":2}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	routes(new(MockPublisher), logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
