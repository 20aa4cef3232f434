package content

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/httputil"
)

// HTTPDirectory resolves content through the platform's content API.
type HTTPDirectory struct {
	api *httputil.ServiceClient
}

// NewHTTPDirectory creates a directory client for baseURL.
func NewHTTPDirectory(baseURL, apiKey string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{api: httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: timeout,
	})}
}

// Resolve fetches /v1/content/{type}/{ref}.
func (d *HTTPDirectory) Resolve(ctx context.Context, contentType ledger.ContentType, ref string) (Item, error) {
	path := fmt.Sprintf("/v1/content/%s/%s", url.PathEscape(string(contentType)), url.PathEscape(ref))
	body, err := d.get(ctx, path)
	if err != nil {
		if httputil.StatusCode(err) == http.StatusNotFound {
			return Item{}, core.NewNotFoundError(string(contentType), ref)
		}
		return Item{}, fmt.Errorf("resolve %s %s: %w", contentType, ref, err)
	}

	doc := gjson.ParseBytes(body)
	if data := doc.Get("data"); data.IsObject() {
		doc = data
	}
	item := Item{
		ID:       doc.Get("id").String(),
		Type:     ledger.ContentType(doc.Get("type").String()),
		OwnerID:  doc.Get("owner_id").String(),
		Size:     doc.Get("size").Int(),
		Checksum: doc.Get("checksum").String(),
	}
	if item.ID == "" {
		item.ID = ref
	}
	if item.Type == "" {
		item.Type = contentType
	}
	if item.Type != contentType {
		return Item{}, core.NewValidationError("content_type", fmt.Sprintf("%s %s is a %s", contentType, ref, item.Type))
	}
	return item, nil
}

// Exists reports whether the item id is known to the content API.
func (d *HTTPDirectory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.get(ctx, "/v1/items/"+url.PathEscape(id))
	if err == nil {
		return true, nil
	}
	if httputil.StatusCode(err) == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("lookup item %s: %w", id, err)
}

func (d *HTTPDirectory) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := d.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return httputil.ReadBody(resp)
}
