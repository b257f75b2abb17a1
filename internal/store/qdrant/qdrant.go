// Package qdrant implements store.Store over the Qdrant gRPC API.
package qdrant

import (
	"context"
	"fmt"
	"sort"

	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultPageSize is the scroll page size used when none is configured.
const DefaultPageSize = 256

// Options configures the Qdrant connection.
type Options struct {
	Host     string
	Port     int
	APIKey   string
	PageSize uint32
}

// Repository implements store.Store using Qdrant.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	pageSize    uint32
}

// New dials Qdrant and returns a repository.
func New(ctx context.Context, opts Options) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := newRepository(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts.PageSize)
	r.conn = conn
	return r, nil
}

func newRepository(points pb.PointsClient, collections pb.CollectionsClient, pageSize uint32) *Repository {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Repository{
		points:      points,
		collections: collections,
		pageSize:    pageSize,
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (r *Repository) ListCollections(ctx context.Context) ([]store.Collection, error) {
	resp, err := r.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	cols := make([]store.Collection, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		cols = append(cols, store.Collection{Name: c.GetName()})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols, nil
}

func (r *Repository) ListDocuments(ctx context.Context, collection string) ([]store.Document, error) {
	var (
		docs   []store.Document
		offset *pb.PointId
	)
	for {
		limit := r.pageSize
		resp, err := r.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, wrapNotFound(err, collection)
		}

		for _, pt := range resp.GetResult() {
			content := ""
			meta := make(map[string]any, len(pt.GetPayload()))
			for k, v := range pt.GetPayload() {
				if k == store.ContentKey {
					content = v.GetStringValue()
					continue
				}
				meta[k] = fromValue(v)
			}
			docs = append(docs, store.Document{
				ID:       formatPointID(pt.GetId()),
				Content:  content,
				Vector:   pt.GetVectors().GetVector().GetData(),
				Metadata: meta,
			})
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return docs, nil
		}
	}
}

// ApplyUpdates merges the planned fields into each point's payload. A
// payload merge is atomic per point. Points that no longer exist are
// skipped.
func (r *Repository) ApplyUpdates(ctx context.Context, collection string, plan reconcile.UpdatePlan) ([]string, error) {
	wait := true
	var written []string
	for _, id := range plan.IDs() {
		_, err := r.points.SetPayload(ctx, &pb.SetPayloadPoints{
			CollectionName: collection,
			Wait:           &wait,
			Payload:        toPayload(plan[id]),
			PointsSelector: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
				},
			},
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return written, fmt.Errorf("set payload %s/%s: %w", collection, id, err)
		}
		written = append(written, id)
	}
	return written, nil
}

func (r *Repository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func wrapNotFound(err error, collection string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", store.ErrCollectionNotFound, collection)
	}
	return fmt.Errorf("scroll %s: %w", collection, err)
}

var _ store.Store = (*Repository)(nil)
