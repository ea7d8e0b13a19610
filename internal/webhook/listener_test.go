package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/media/mediatest"
	"github.com/nous-labs/arrbot/pkg/channel/channeltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const targetRoom = "!media:example.org"

const radarrDownload = `{
  "eventType": "Download",
  "isUpgrade": false,
  "movie": {"id": 3, "title": "The Matrix", "year": 1999, "tmdbId": 603,
            "images": [{"coverType": "poster", "remoteUrl": "https://img/payload.jpg"}]},
  "movieFile": {"quality": "Bluray-1080p", "sceneName": "The.Matrix.1999.1080p"},
  "release": {"releaseTitle": "The.Matrix.1999.1080p.BluRay"},
  "someFutureField": {"nested": true}
}`

const sonarrDownload = `{
  "eventType": "Download",
  "series": {"id": 9, "title": "Severance", "year": 2022, "tvdbId": 371980},
  "episodes": [
    {"seasonNumber": 2, "episodeNumber": 1, "title": "Hello, Ms. Cobel"},
    {"seasonNumber": 2, "episodeNumber": 2, "title": "Goodbye, Mrs. Selvig"}
  ],
  "episodeFile": {"quality": "WEBDL-2160p", "relativePath": "Season 02/S02E01.mkv"}
}`

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTestEvent(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	rec := post(t, l.Handler(), "/webhook/radarr", `{"eventType": "Test", "movie": {"title": "Test Title"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	msgs := sent.Sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, targetRoom, msgs[0].RoomID)
	assert.Equal(t, "✅ Received Radarr 'Test' webhook successfully!", msgs[0].Content)
}

func TestMalformedPayloads(t *testing.T) {
	bodies := map[string]string{
		"not json":          `{"eventType": "Test"`,
		"array":             `[{"eventType": "Test"}]`,
		"missing eventType": `{"movie": {"title": "x"}}`,
		"numeric eventType": `{"eventType": 4}`,
		"empty":             ``,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			sent := channeltest.NewRecorder()
			l := New(Config{TargetRoomID: targetRoom}, sent)
			rec := post(t, l.Handler(), "/webhook/radarr", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sent.Sent())
		})
	}
}

func TestRoutes(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	req := httptest.NewRequest(http.MethodGet, "/webhook/radarr", nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = post(t, l.Handler(), "/webhook/lidarr", `{"eventType": "Test"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, sent.Sent())
}

func TestRadarrDownloadEnriched(t *testing.T) {
	radarr := mediatest.NewService(media.Radarr)
	radarr.On("GetByID", mock.Anything, 603).Return(mo.Some(media.CatalogItem{
		Service:    media.Radarr,
		ExternalID: 603,
		Title:      "The Matrix",
		Year:       1999,
		Overview:   "A hacker learns the truth.",
		PosterURL:  "https://img/service.jpg",
		HasFile:    true,
	}), nil)

	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent, radarr)

	rec := post(t, l.Handler(), "/webhook/radarr", radarrDownload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msgs := sent.Sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "🎬 **Downloaded:** The Matrix (1999)")
	assert.Contains(t, msgs[0].Content, "A hacker learns the truth.")
	assert.Contains(t, msgs[0].Content, "Release: The.Matrix.1999.1080p.BluRay")
	assert.Equal(t, "https://img/service.jpg", msgs[0].ImageURL)
	radarr.AssertExpectations(t)
}

func TestRadarrDownloadEnrichmentFailure(t *testing.T) {
	radarr := mediatest.NewService(media.Radarr)
	radarr.On("GetByID", mock.Anything, 603).Return(mo.None[media.CatalogItem](), errors.New("timeout"))

	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent, radarr)

	rec := post(t, l.Handler(), "/webhook/radarr", radarrDownload)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := sent.Sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "The Matrix (1999)")
	assert.Contains(t, msgs[0].Content, "Quality: Bluray-1080p")
	assert.Equal(t, "https://img/payload.jpg", msgs[0].ImageURL)
}

func TestSonarrDownload(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	rec := post(t, l.Handler(), "/webhook/sonarr", sonarrDownload)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := sent.Sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "📺 **Downloaded:** Severance (2022)")
	assert.Contains(t, msgs[0].Content, "S02E01 – Hello, Ms. Cobel")
	assert.Contains(t, msgs[0].Content, "S02E02 – Goodbye, Mrs. Selvig")
	assert.Contains(t, msgs[0].Content, "Release: Season 02/S02E01.mkv")
}

func TestDownloadMissingItem(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	assert.Equal(t, http.StatusBadRequest, post(t, l.Handler(), "/webhook/radarr", `{"eventType": "Download"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, l.Handler(), "/webhook/sonarr",
		`{"eventType": "Download", "series": {"title": "X"}, "episodes": []}`).Code)
	assert.Empty(t, sent.Sent())
}

func TestIgnoredEvent(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	rec := post(t, l.Handler(), "/webhook/sonarr", `{"eventType": "Grab", "series": {"title": "X"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Empty(t, sent.Sent())
}

func TestDeliveryFailureKeepsServing(t *testing.T) {
	sent := channeltest.NewRecorder()
	l := New(Config{TargetRoomID: targetRoom}, sent)

	sent.FailWith(errors.New("matrix unreachable"))
	rec := post(t, l.Handler(), "/webhook/radarr", `{"eventType": "Test"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	sent.FailWith(nil)
	rec = post(t, l.Handler(), "/webhook/radarr", `{"eventType": "Test"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sent.Sent(), 1)
}

func TestServeAndShutdown(t *testing.T) {
	l := New(Config{TargetRoomID: targetRoom}, channeltest.NewRecorder())

	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := client.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNormalizeIgnoresUnknownFields(t *testing.T) {
	evt, err := Normalize(media.Radarr, []byte(radarrDownload))
	require.NoError(t, err)
	require.NotNil(t, evt.Item)
	assert.Equal(t, 603, evt.Item.ExternalID)
	assert.Equal(t, 3, evt.Item.InternalID)
	assert.True(t, evt.Item.Added)
	assert.Contains(t, evt.Raw, "someFutureField")

	var ve *ValidationError
	_, err = Normalize(media.Sonarr, []byte(`{"eventType": "Download", "episodes": [{}]}`))
	assert.ErrorAs(t, err, &ve)
}
