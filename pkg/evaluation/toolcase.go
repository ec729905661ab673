package evaluation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	httpclient "github.com/govplane/backplane/pkg/shared/httpclient"
)

// ToolRunCase builds a Case out of an external scoring tool reached
// over HTTP — the synchronous counterpart to a "tool_run" queue job
// (§ queue JobToolRun). Each tool speaks its own response shape, so
// rather than define a struct per tool this pulls ScorePath out of the
// raw body with gjson and leaves everything else in the response
// untouched.
type ToolRunCase struct {
	URL         string
	BodyTemplate string // JSON template; its top-level "tag" field is set via sjson before send
	ScorePath   string // gjson path into the tool's response, e.g. "result.score"
	Timeout     time.Duration
	client      *http.Client
}

// NewToolRunCase constructs a ToolRunCase with a client sized for
// short-lived scoring calls.
func NewToolRunCase(name, url, bodyTemplate, scorePath string, timeout time.Duration) Case {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	t := &ToolRunCase{
		URL: url, BodyTemplate: bodyTemplate, ScorePath: scorePath, Timeout: timeout,
		client: httpclient.NewClientWithTimeout(timeout),
	}
	return Case{Name: name, Run: t.Run}
}

// Run posts BodyTemplate with its "tag" field set to tag and extracts ScorePath
// from the response without requiring a typed response struct.
func (t *ToolRunCase) Run(ctx context.Context, tag string) (float64, error) {
	body, err := sjson.Set(t.BodyTemplate, "tag", tag)
	if err != nil {
		return 0, fmt.Errorf("tool run case: substitute tag: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tool run case: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("tool run case: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("tool run case: tool returned status %d", resp.StatusCode)
	}

	result := gjson.GetBytes(raw, t.ScorePath)
	if !result.Exists() {
		return 0, fmt.Errorf("tool run case: score path %q not found in response", t.ScorePath)
	}
	return result.Float(), nil
}
