package read

import (
	"context"
	"strconv"
	"strings"

	"github.com/IvanBrykalov/flightcache/thread"
)

// FetchOption selects where GetData looks for a partition.
type FetchOption int

const (
	// OnlineIfNotFound serves from the cache and falls back to the network.
	OnlineIfNotFound FetchOption = iota
	// OnlineOnly always fetches and refreshes the cache with the result.
	OnlineOnly
	// CacheOnly never touches the network; a miss is ErrNotFound.
	CacheOnly
)

func (o FetchOption) String() string {
	switch o {
	case OnlineIfNotFound:
		return "online_if_not_found"
	case OnlineOnly:
		return "online_only"
	case CacheOnly:
		return "cache_only"
	default:
		return "unknown"
	}
}

// DataRequest identifies one blob of a layer, either by partition id or by
// data handle. PartitionID wins when both are set.
type DataRequest struct {
	PartitionID string
	DataHandle  string
	Version     *int64
	FetchOption FetchOption
	// BillingTag is forwarded to the Fetcher; it is not part of the key.
	BillingTag string
	// Priority applies to the fetch on the client's scheduler. It is not
	// part of the key: joining a running fetch does not change its priority.
	Priority thread.Priority
}

// CreateKey returns the key used both for de-duplication and for the cache:
//
//	catalog::layer::partition::<id>[@version]
//	catalog::layer::handle::<handle>[@version]
func (r DataRequest) CreateKey(catalog, layer string) string {
	var b strings.Builder
	b.WriteString(catalog)
	b.WriteString("::")
	b.WriteString(layer)
	b.WriteString("::")
	if r.PartitionID != "" {
		b.WriteString("partition::")
		b.WriteString(r.PartitionID)
	} else {
		b.WriteString("handle::")
		b.WriteString(r.DataHandle)
	}
	if r.Version != nil {
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(*r.Version, 10))
	}
	return b.String()
}

func (r DataRequest) valid() bool { return r.PartitionID != "" || r.DataHandle != "" }

// Fetcher is the transport boundary of a LayerClient. Implementations must
// honour ctx: it is cancelled when every caller waiting on the request has
// gone away or the client is closed.
type Fetcher interface {
	Fetch(ctx context.Context, req DataRequest) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req DataRequest) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, req DataRequest) ([]byte, error) {
	return f(ctx, req)
}

// PrefetchResult is the outcome of one request in a Prefetch batch.
type PrefetchResult struct {
	Request DataRequest
	Size    int
	Err     error
}
