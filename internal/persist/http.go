package persist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"ScoreBoard/internal/state"
)

// HTTPStore talks to the server's REST collaborator routes.
type HTTPStore struct {
	client *resty.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPStore{client: c}
}

// check maps transport failures and 5xx to ErrUnavailable so the bridge
// retries them; 404 becomes ErrNotFound.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return unavailable(op, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode() >= 500:
		return unavailable(op, fmt.Errorf("status %d", resp.StatusCode()))
	case resp.IsError():
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *HTTPStore) Create(ctx context.Context, a state.Annotation) (state.Annotation, error) {
	var out state.Annotation
	resp, err := s.client.R().SetContext(ctx).SetBody(a).SetResult(&out).Post("/api/annotations")
	if err := check("create annotation", resp, err); err != nil {
		return state.Annotation{}, err
	}
	return out, nil
}

func (s *HTTPStore) BulkCreate(ctx context.Context, as []state.Annotation) ([]state.Annotation, error) {
	var out []state.Annotation
	resp, err := s.client.R().SetContext(ctx).SetBody(as).SetResult(&out).Post("/api/annotations/bulk")
	if err := check("bulk create annotations", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	resp, err := s.client.R().SetContext(ctx).Delete("/api/annotations/" + url.PathEscape(id))
	return check("delete annotation", resp, err)
}

func (s *HTTPStore) ListByItem(ctx context.Context, itemID string) ([]state.Annotation, error) {
	var out []state.Annotation
	resp, err := s.client.R().SetContext(ctx).SetResult(&out).
		Get("/api/items/" + url.PathEscape(itemID) + "/annotations")
	if err := check("list annotations", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) CreateCommand(ctx context.Context, c state.Command) (state.Command, error) {
	var out state.Command
	resp, err := s.client.R().SetContext(ctx).SetBody(c).SetResult(&out).Post("/api/commands")
	if err := check("create command", resp, err); err != nil {
		return state.Command{}, err
	}
	return out, nil
}

func (s *HTTPStore) ListCommands(ctx context.Context, itemID string, limit int) ([]state.Command, error) {
	var out []state.Command
	req := s.client.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/items/" + url.PathEscape(itemID) + "/commands")
	if err := check("list commands", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/health")
	return check("ping", resp, err)
}

func (s *HTTPStore) Close() error { return nil }
