// ABOUTME: Client calls for content rendering and content jobs
// ABOUTME: A failed render comes back as an APIError carrying the render error

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/2389/wrap-gateway/internal/api"
	"github.com/2389/wrap-gateway/internal/render"
)

// Render submits a content brief. The mode is render.ModePreview or
// render.ModeExecute.
func (c *Client) Render(ctx context.Context, req render.RenderRequest) (*render.Response, error) {
	var out render.Response
	if err := c.do(ctx, http.MethodPost, "/v1/content/render", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContentJob reads one content job.
func (c *Client) GetContentJob(ctx context.Context, id string) (*api.ContentJobResponse, error) {
	var out api.ContentJobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/content/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContentJobs lists content jobs, newest first.
func (c *Client) ListContentJobs(ctx context.Context, opts ListOptions) ([]api.ContentJobResponse, error) {
	var out struct {
		Jobs []api.ContentJobResponse `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/content/jobs", opts.query()), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}
