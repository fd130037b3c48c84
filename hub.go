package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// hubModel is the wire form of a model descriptor as returned by the hub's
// search API. It is the ingestion boundary: unknown or missing fields become
// explicit defaults in toRemoteModel rather than leaking nil checks into
// consumers.
type hubModel struct {
	// ID is the repository id ("owner/name").
	ID string `json:"id"`

	// Author is the repository owner. Derived from ID when absent.
	Author string `json:"author"`

	// Pipeline is the declared pipeline tag.
	Pipeline string `json:"pipeline_tag"`

	// Tags are the repository tags.
	Tags []string `json:"tags"`

	// Downloads is the hub's download counter.
	Downloads int64 `json:"downloads"`

	// Likes is the hub's popularity counter.
	Likes int64 `json:"likes"`

	// Description is free-form repository text.
	Description string `json:"description"`

	// Siblings lists the repository's files.
	Siblings []hubSibling `json:"siblings"`
}

// hubSibling is a file entry in the hub's wire format.
type hubSibling struct {
	// Name is the filename within the repository.
	Name string `json:"rfilename"`

	// Size is the file size in bytes. May be absent.
	Size int64 `json:"size"`
}

// visionPipelines are pipeline tags the hub uses for image-input models.
// They set the descriptor's explicit Vision flag at ingestion.
var visionPipelines = map[string]bool{
	"image-text-to-text":        true,
	"visual-question-answering": true,
}

// toRemoteModel converts a wire descriptor to the validated domain form.
func toRemoteModel(hm hubModel) RemoteModel {
	name := hm.ID
	author := hm.Author
	if idx := strings.Index(hm.ID, "/"); idx != -1 {
		if author == "" {
			author = hm.ID[:idx]
		}
		name = hm.ID[idx+1:]
	}

	files := make([]FileEntry, 0, len(hm.Siblings))
	for _, s := range hm.Siblings {
		if s.Name == "" {
			continue
		}
		files = append(files, FileEntry{Name: s.Name, Size: s.Size})
	}

	return RemoteModel{
		ID:          hm.ID,
		Name:        name,
		Author:      author,
		Description: hm.Description,
		Pipeline:    hm.Pipeline,
		Tags:        hm.Tags,
		Downloads:   hm.Downloads,
		Likes:       hm.Likes,
		Vision:      visionPipelines[hm.Pipeline],
		Files:       files,
	}
}

// hubClient handles HTTP communication with the remote model hub.
type hubClient struct {
	// baseURL is the base URL of the hub (e.g. "https://huggingface.co").
	baseURL string

	// token is an optional bearer token, passed through unmodified.
	token string

	// httpClient is used for HTTP requests.
	httpClient HTTPClient

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// searchCache holds recent search results so keystroke-driven queries
	// don't hammer the hub.
	searchCache *gocache.Cache
}

// newHubClient creates a new hub client.
// The baseURL is normalized by removing any trailing slashes.
func newHubClient(baseURL, token string, client HTTPClient, logger Logger) *hubClient {
	return &hubClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  client,
		logger:      logger,
		searchCache: gocache.New(SearchCacheTTL, 2*SearchCacheTTL),
	}
}

// newRequest builds a request with the bearer token attached when present.
func (h *hubClient) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return req, nil
}

// statusToError maps a non-200 hub response to the error taxonomy.
// 429 is the rate-limit signal and is always distinguishable from other
// failures.
func statusToError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusNotFound:
		return ErrFileNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("access denied: %w", ErrHubError)
	default:
		return ErrHubError
	}
}

// search queries the hub for models matching query. Results are cached for
// SearchCacheTTL. The sort parameter is passed through opaquely ("downloads",
// "likes", "lastModified"); the hub's ranking is not interpreted here.
func (h *hubClient) search(ctx context.Context, query string, limit int, sortBy string) ([]RemoteModel, error) {
	if limit <= 0 {
		limit = 30
	}

	cacheKey := query + "|" + strconv.Itoa(limit) + "|" + sortBy
	if cached, ok := h.searchCache.Get(cacheKey); ok {
		if h.logger != nil {
			h.logger.Debug("search cache hit", "query", query)
		}
		return cached.([]RemoteModel), nil
	}

	u := h.baseURL + "/api/models?search=" + url.QueryEscape(query) +
		"&limit=" + strconv.Itoa(limit) + "&full=true"
	if sortBy != "" {
		u += "&sort=" + url.QueryEscape(sortBy)
	}

	req, err := h.newRequest(ctx, u)
	if err != nil {
		return nil, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching hub: %w", ErrNetworkError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("searching hub: %w", ErrRateLimited)
		}
		return nil, fmt.Errorf("searching hub: status %d: %w", resp.StatusCode, ErrHubError)
	}

	var wire []hubModel
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", ErrHubError)
	}

	results := make([]RemoteModel, 0, len(wire))
	for _, hm := range wire {
		if hm.ID == "" {
			continue
		}
		results = append(results, toRemoteModel(hm))
	}

	h.searchCache.Set(cacheKey, results, gocache.DefaultExpiration)
	return results, nil
}

// fetchFile opens a streaming download of filename from repoID.
// Returns the body, the content length (0 when unknown), or a DownloadError
// carrying the HTTP status.
func (h *hubClient) fetchFile(ctx context.Context, repoID, filename string) (io.ReadCloser, int64, error) {
	u := h.baseURL + "/" + repoID + "/resolve/main/" + url.PathEscape(filename)

	req, err := h.newRequest(ctx, u)
	if err != nil {
		return nil, 0, err
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, 0, &DownloadError{Filename: filename, Err: ErrNetworkError}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, &DownloadError{
			Filename:   filename,
			StatusCode: resp.StatusCode,
			Err:        statusToError(resp.StatusCode),
		}
	}

	length := resp.ContentLength
	if length < 0 {
		length = 0
	}
	return resp.Body, length, nil
}
