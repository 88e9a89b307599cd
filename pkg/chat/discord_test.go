package chat

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func restErr(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "boom"},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantNotFound  bool
		wantForbidden bool
	}{
		{"unknown message", restErr(http.StatusNotFound, discordgo.ErrCodeUnknownMessage), true, false},
		{"unknown channel", restErr(http.StatusNotFound, discordgo.ErrCodeUnknownChannel), true, false},
		{"missing permissions", restErr(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), false, true},
		{"bare 404", restErr(http.StatusNotFound, 0), true, false},
		{"server error", restErr(http.StatusBadGateway, 0), false, false},
		{"not a rest error", errors.New("websocket closed"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Error(t, err)
			assert.Equal(t, tt.wantNotFound, IsNotFound(err))
			assert.Equal(t, tt.wantForbidden, IsForbidden(err))
		})
	}
	assert.NoError(t, classify(nil))
}

func TestIDRoundTrip(t *testing.T) {
	assert.Equal(t, "813415262158143508", ID(813415262158143508))
	assert.Equal(t, int64(813415262158143508), ParseID("813415262158143508"))
	assert.Equal(t, int64(0), ParseID(""))
}

func TestToDiscordEmbed(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := toDiscordEmbed(Embed{
		AuthorName:  "Trophy Push Leaderboard",
		AuthorIcon:  "https://example.com/icon.png",
		Description: "```table```",
		Footer:      "Last Updated",
		Timestamp:   at,
	})

	assert.Equal(t, "Trophy Push Leaderboard", e.Author.Name)
	assert.Equal(t, "Last Updated", e.Footer.Text)
	assert.Equal(t, "2024-03-01T12:00:00Z", e.Timestamp)
	assert.Equal(t, "```table```", e.Description)
}
