package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	neturl "net/url"
	"time"

	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
	httpclient "github.com/govplane/backplane/pkg/shared/httpclient"
)

// GoogleDrivePublicConnector reads a publicly shared Drive folder
// using an API key instead of an OAuth token. It shares the
// GoogleDriveConnector's listing/metadata shape but never requires a
// secrets_ref, since public folders need no per-user authorization.
type GoogleDrivePublicConnector struct {
	inner *GoogleDriveConnector
}

func NewGoogleDrivePublicConnector(config map[string]any, _ *string) (Connector, error) {
	folderID, _ := config["folder_id"].(string)
	apiKey, _ := config["api_key"].(string)
	baseURL, _ := config["base_url"].(string)
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/drive/v3"
	}
	if folderID == "" {
		return nil, govplaneerrors.ValidationError("folder_id", "must not be empty")
	}
	if apiKey == "" {
		return nil, govplaneerrors.ValidationError("api_key", "must not be empty")
	}
	return &GoogleDrivePublicConnector{inner: &GoogleDriveConnector{
		FolderID: folderID,
		BaseURL:  baseURL,
		client:   httpclient.NewClient(httpclient.ConnectorClientConfig(30 * time.Second)),
		breaker:  newConnectorBreaker("google_drive_public"),
		// api key travels as a query parameter, not a bearer token
		AccessToken: apiKey,
	}}, nil
}

func (c *GoogleDrivePublicConnector) ValidateConfig() error {
	if c.inner.FolderID == "" {
		return govplaneerrors.ValidationError("folder_id", "must not be empty")
	}
	if c.inner.AccessToken == "" {
		return govplaneerrors.ValidationError("api_key", "must not be empty")
	}
	return nil
}

func (c *GoogleDrivePublicConnector) ListChanges(ctx context.Context, cursor *string) ([]Item, *string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", c.inner.FolderID)
	if cursor != nil && *cursor != "" {
		query += fmt.Sprintf(" and modifiedTime > '%s'", *cursor)
	}
	query = neturl.QueryEscape(query)
	url := fmt.Sprintf("%s/files?q=%s&key=%s&fields=files(id,name,mimeType,modifiedTime,size,md5Checksum,trashed)",
		c.inner.BaseURL, query, c.inner.AccessToken)

	result, err := c.inner.breaker.Execute(func() (any, error) {
		return c.doPublicJSON(ctx, url)
	})
	if err != nil {
		return nil, nil, govplaneerrors.FailedToWithDetails("list google_drive_public changes", "connector", c.inner.FolderID, err)
	}

	var parsed struct {
		Files []driveFile `json:"files"`
	}
	if err := json.Unmarshal(result.([]byte), &parsed); err != nil {
		return nil, nil, govplaneerrors.ParseError("google_drive_public files response", "json", err)
	}

	var items []Item
	latest := ""
	if cursor != nil {
		latest = *cursor
	}
	for _, f := range parsed.Files {
		items = append(items, f)
		if f.ModifiedTime > latest {
			latest = f.ModifiedTime
		}
	}
	return items, &latest, nil
}

func (c *GoogleDrivePublicConnector) GetMetadata(ctx context.Context, item Item) (Metadata, error) {
	return c.inner.GetMetadata(ctx, item)
}

func (c *GoogleDrivePublicConnector) Download(ctx context.Context, item Item) ([]byte, error) {
	f, ok := item.(driveFile)
	if !ok {
		return nil, fmt.Errorf("google_drive_public connector received a non-drive item")
	}
	url := fmt.Sprintf("%s/files/%s?alt=media&key=%s", c.inner.BaseURL, f.ID, c.inner.AccessToken)
	result, err := c.inner.breaker.Execute(func() (any, error) {
		return c.doPublicJSON(ctx, url)
	})
	if err != nil {
		return nil, govplaneerrors.FailedToWithDetails("download google_drive_public file", "connector", f.ID, err)
	}
	return result.([]byte), nil
}

// doPublicJSON reuses the inner connector's HTTP plumbing without its
// bearer-token header, since the key already travels on the URL.
func (c *GoogleDrivePublicConnector) doPublicJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := newGetRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := c.inner.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("google drive public api returned status %d", resp.StatusCode)
	}
	return readAllBody(resp)
}
