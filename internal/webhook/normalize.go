package webhook

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nous-labs/arrbot/internal/media"
)

// ValidationError rejects a webhook payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid webhook payload: " + e.Reason }

func invalid(reason string) error { return &ValidationError{Reason: reason} }

// Normalize converts a Sonarr or Radarr webhook body into a media.Event.
// Event types other than Test and Download return (nil, nil). Unknown fields
// are ignored.
func Normalize(svc media.ServiceType, body []byte) (*media.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalid("body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, invalid("body is not a JSON object")
	}
	et := root.Get("eventType")
	if et.Type != gjson.String || strings.TrimSpace(et.String()) == "" {
		return nil, invalid("missing eventType")
	}

	evt := &media.Event{
		Service:   svc,
		EventType: et.String(),
	}
	if raw, ok := root.Value().(map[string]any); ok {
		evt.Raw = raw
	}

	switch {
	case strings.EqualFold(evt.EventType, "Test"):
		evt.IsTest = true
		return evt, nil
	case strings.EqualFold(evt.EventType, "Download"):
	default:
		return nil, nil
	}

	evt.IsUpgrade = root.Get("isUpgrade").Bool()
	switch svc {
	case media.Radarr:
		movie := root.Get("movie")
		if !movie.IsObject() {
			return nil, invalid("Download event without movie")
		}
		item := catalogItem(svc, movie, "tmdbId")
		if item.ExternalID == 0 {
			item.ExternalID = int(root.Get("remoteMovie.tmdbId").Int())
		}
		if item.Title == "" {
			item.Title = root.Get("remoteMovie.title").String()
		}
		if item.Title == "" {
			return nil, invalid("movie without title")
		}
		item.HasFile = true
		evt.Item = &item
		evt.ReleaseTitle = firstString(root, "release.releaseTitle", "movieFile.sceneName", "movieFile.relativePath")
		evt.Quality = firstString(root, "movieFile.quality", "release.quality")

	case media.Sonarr:
		series := root.Get("series")
		if !series.IsObject() {
			return nil, invalid("Download event without series")
		}
		item := catalogItem(svc, series, "tvdbId")
		if item.Title == "" {
			return nil, invalid("series without title")
		}
		episodes := root.Get("episodes")
		if !episodes.IsArray() || len(episodes.Array()) == 0 {
			return nil, invalid("Download event without episodes")
		}
		for _, ep := range episodes.Array() {
			evt.Episodes = append(evt.Episodes, media.Episode{
				Season: int(ep.Get("seasonNumber").Int()),
				Number: int(ep.Get("episodeNumber").Int()),
				Title:  ep.Get("title").String(),
			})
		}
		evt.Item = &item
		evt.ReleaseTitle = firstString(root, "release.releaseTitle", "episodeFile.sceneName", "episodeFile.relativePath")
		evt.Quality = firstString(root, "episodeFile.quality", "release.quality")
	}
	return evt, nil
}

func catalogItem(svc media.ServiceType, obj gjson.Result, idField string) media.CatalogItem {
	item := media.CatalogItem{
		Service:    svc,
		ExternalID: int(obj.Get(idField).Int()),
		InternalID: int(obj.Get("id").Int()),
		Title:      obj.Get("title").String(),
		Year:       int(obj.Get("year").Int()),
		Overview:   obj.Get("overview").String(),
		Added:      true,
	}
	obj.Get("images").ForEach(func(_, img gjson.Result) bool {
		if !strings.EqualFold(img.Get("coverType").String(), "poster") {
			return true
		}
		for _, key := range []string{"remoteUrl", "url"} {
			if u := img.Get(key).String(); strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
				item.PosterURL = u
				return false
			}
		}
		return true
	})
	return item
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
