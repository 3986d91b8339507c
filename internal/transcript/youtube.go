package transcript

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultTimedTextURL = "https://www.youtube.com/api/timedtext"

// YouTubeFetcher downloads caption tracks from the timedtext endpoint.
type YouTubeFetcher struct {
	baseURL  string
	language string
	client   *http.Client
}

func NewYouTubeFetcher(baseURL, language string, client *http.Client) *YouTubeFetcher {
	if baseURL == "" {
		baseURL = defaultTimedTextURL
	}
	if language == "" {
		language = "es"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTubeFetcher{baseURL: baseURL, language: language, client: client}
}

type timedText struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
}

func (y *YouTubeFetcher) Fetch(ctx context.Context, source string) (string, error) {
	id, err := VideoID(source)
	if err != nil {
		return "", &FetchError{Source: source, Err: err}
	}

	q := url.Values{}
	q.Set("v", id)
	q.Set("lang", y.language)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", &FetchError{Source: source, Err: err}
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return "", &FetchError{Source: source, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &FetchError{Source: source, Err: fmt.Errorf("timedtext status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var doc timedText
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		if err == io.EOF {
			return "", &FetchError{Source: source, Err: ErrEmptyTranscript}
		}
		return "", &FetchError{Source: source, Err: fmt.Errorf("decode timedtext: %w", err)}
	}

	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		// caption bodies are HTML-escaped a second time inside the XML
		snippet := strings.Join(strings.Fields(html.UnescapeString(t.Body)), " ")
		if snippet != "" {
			parts = append(parts, snippet)
		}
	}
	if len(parts) == 0 {
		return "", &FetchError{Source: source, Err: ErrEmptyTranscript}
	}
	return strings.Join(parts, " "), nil
}

// VideoID extracts the id from youtu.be/<id> or a watch URL with ?v=<id>.
func VideoID(source string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return "", fmt.Errorf("parse video url: %w", err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" && !strings.Contains(id, "/") {
			return id, nil
		}
	default:
		if id := u.Query().Get("v"); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no video id in %q", source)
}
