package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/sony/gobreaker"

	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
	httpclient "github.com/govplane/backplane/pkg/shared/httpclient"
)

// GoogleDriveConfig is the validated shape of a google_drive
// WorkspaceSource's config.
type GoogleDriveConfig struct {
	FolderID    string `validate:"required"`
	AccessToken string `validate:"required"`
}

// driveFile mirrors the subset of the Drive API's file resource the
// pipeline needs.
type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
	Size         string `json:"size"`
	Md5Checksum  string `json:"md5Checksum"`
	Trashed      bool   `json:"trashed"`
}

// GoogleDriveConnector lists and downloads files from a Drive folder
// using an OAuth bearer token, behind a circuit breaker so a flapping
// Drive API degrades the run instead of hanging it.
type GoogleDriveConnector struct {
	FolderID    string
	AccessToken string
	BaseURL     string // overridable for tests
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

func NewGoogleDriveConnector(config map[string]any, secretsRef *string) (Connector, error) {
	folderID, _ := config["folder_id"].(string)
	token, _ := config["access_token"].(string)
	if token == "" && secretsRef != nil {
		token = resolveSecret(*secretsRef)
	}
	baseURL, _ := config["base_url"].(string)
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/drive/v3"
	}
	c := &GoogleDriveConnector{
		FolderID: folderID, AccessToken: token, BaseURL: baseURL,
		client:  httpclient.NewClient(httpclient.ConnectorClientConfig(30 * time.Second)),
		breaker: newConnectorBreaker("google_drive"),
	}
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveSecret is a placeholder indirection point: production
// deployments resolve secrets_ref against a secret manager; it is
// opaque to the connector and out of scope for this module.
func resolveSecret(ref string) string { return ref }

func newConnectorBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func (c *GoogleDriveConnector) ValidateConfig() error {
	schema := GoogleDriveConfig{FolderID: c.FolderID, AccessToken: c.AccessToken}
	if err := configValidate.Struct(schema); err != nil {
		return govplaneerrors.ValidationError("google_drive config", err.Error())
	}
	return nil
}

func (c *GoogleDriveConnector) ListChanges(ctx context.Context, cursor *string) ([]Item, *string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", c.FolderID)
	if cursor != nil && *cursor != "" {
		query += fmt.Sprintf(" and modifiedTime > '%s'", *cursor)
	}
	query = neturl.QueryEscape(query)
	url := fmt.Sprintf("%s/files?q=%s&fields=files(id,name,mimeType,modifiedTime,size,md5Checksum,trashed)", c.BaseURL, query)

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doJSON(ctx, url)
	})
	if err != nil {
		return nil, nil, govplaneerrors.FailedToWithDetails("list google_drive changes", "connector", c.FolderID, err)
	}

	var parsed struct {
		Files []driveFile `json:"files"`
	}
	if err := json.Unmarshal(result.([]byte), &parsed); err != nil {
		return nil, nil, govplaneerrors.ParseError("google_drive files response", "json", err)
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

func (c *GoogleDriveConnector) GetMetadata(ctx context.Context, item Item) (Metadata, error) {
	f, ok := item.(driveFile)
	if !ok {
		return Metadata{}, fmt.Errorf("google_drive connector received a non-drive item")
	}
	if f.Trashed {
		return Metadata{SourceDocumentID: f.ID, Name: f.Name, Removed: true}, nil
	}
	var modified *time.Time
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		modified = &t
	}
	var size *int64
	if f.Size != "" {
		var s int64
		if _, err := fmt.Sscanf(f.Size, "%d", &s); err == nil {
			size = &s
		}
	}
	return Metadata{
		SourceDocumentID: f.ID,
		Name:             f.Name,
		MIME:             f.MimeType,
		ModifiedTime:     modified,
		Size:             size,
		Checksum:         f.Md5Checksum,
		Path:             f.Name,
	}, nil
}

func (c *GoogleDriveConnector) Download(ctx context.Context, item Item) ([]byte, error) {
	f, ok := item.(driveFile)
	if !ok {
		return nil, fmt.Errorf("google_drive connector received a non-drive item")
	}
	url := fmt.Sprintf("%s/files/%s?alt=media", c.BaseURL, f.ID)
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doJSON(ctx, url)
	})
	if err != nil {
		return nil, govplaneerrors.FailedToWithDetails("download google_drive file", "connector", f.ID, err)
	}
	return result.([]byte), nil
}

func (c *GoogleDriveConnector) doJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("google drive api returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func newGetRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func readAllBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
