package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry(Item{ID: "m1", Type: ledger.ContentMemorial, OwnerID: "u1"})
	reg.Put(Item{ID: "g1", Type: ledger.ContentImage, OwnerID: "u2"})
	ctx := context.Background()

	item, err := reg.Resolve(ctx, ledger.ContentImage, "g1")
	require.NoError(t, err)
	assert.Equal(t, "u2", item.OwnerID)

	_, err = reg.Resolve(ctx, ledger.ContentCover, "g1")
	assert.True(t, core.IsNotFound(err))

	ok, err := reg.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = reg.Exists(ctx, "nope")
	assert.False(t, ok)
}

func TestHTTPDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/content/image/g1":
			_, _ = w.Write([]byte(`{"data":{"id":"g1","type":"image","owner_id":"u1","size":2048}}`))
		case "/v1/content/cover/g1":
			_, _ = w.Write([]byte(`{"id":"g1","type":"image","owner_id":"u1"}`))
		case "/v1/items/m1":
			_, _ = w.Write([]byte(`{"id":"m1"}`))
		case "/v1/items/flaky":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dir := NewHTTPDirectory(server.URL, "key", time.Second)
	ctx := context.Background()

	item, err := dir.Resolve(ctx, ledger.ContentImage, "g1")
	require.NoError(t, err)
	assert.Equal(t, Item{ID: "g1", Type: ledger.ContentImage, OwnerID: "u1", Size: 2048}, item)

	_, err = dir.Resolve(ctx, ledger.ContentCover, "g1")
	assert.True(t, core.IsValidationError(err))

	_, err = dir.Resolve(ctx, ledger.ContentMemorial, "missing")
	assert.True(t, core.IsNotFound(err))

	ok, err := dir.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = dir.Exists(ctx, "flaky")
	assert.Error(t, err)
}
