// Package semantic is the sole owner of all Qdrant operations: collection
// lifecycle, chunk upserts, nearest-neighbour queries, and the full scan
// used by the lexical fallback retriever.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

// HNSW construction parameters for new collections.
const (
	hnswM           = 16
	hnswEfConstruct = 200
)

// scrollPageSize bounds a single Scroll round-trip.
const scrollPageSize = 256

// VectorStore is a Qdrant-backed chunk store for one named collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// Collection returns the collection name this store operates on.
func (v *VectorStore) Collection() string { return v.collection }

// Dimensions returns the vector width fixed by EnsureCollection, or 0 if the
// collection has not been ensured yet.
func (v *VectorStore) Dimensions() int { return v.dims }

// Ping checks that the Qdrant service is reachable.
func (v *VectorStore) Ping(ctx context.Context) error {
	_, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

// EnsureCollection creates the collection if absent, with cosine distance
// and the configured HNSW construction parameters, and fixes the vector
// dimension for all later upserts.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			v.dims = dims
			return nil
		}
	}

	d := uint64(dims)
	m := uint64(hnswM)
	ef := uint64(hnswEfConstruct)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:           &m,
			EfConstruct: &ef,
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	v.dims = dims
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Recreate drops and recreates the collection, clearing every chunk.
func (v *VectorStore) Recreate(ctx context.Context, dims int) error {
	if err := v.DeleteCollection(ctx); err != nil {
		return err
	}
	return v.EnsureCollection(ctx, dims)
}

// Upsert stores records into the collection. Every vector must match the
// dimension fixed by EnsureCollection; a mismatch aborts the whole batch.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if v.dims > 0 && len(r.Vector) != v.dims {
			return fmt.Errorf("semantic: record %s has %d dims, collection has %d: %w",
				r.ID, len(r.Vector), v.dims, domain.ErrDimensionMismatch)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: sanitizePayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Query performs k-NN similarity search with an optional metadata filter.
func (v *VectorStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if f := buildFilter(filter); f != nil {
		req.Filter = f
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Chunk: chunkFromPayload(payloadToMap(r.GetPayload())),
		}
	}
	return results, nil
}

// Scan returns every chunk in the collection, optionally filtered by
// metadata. Vectors are not fetched. Used only by the lexical fallback.
func (v *VectorStore) Scan(ctx context.Context, filter map[string]string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	var offset *pb.PointId
	limit := uint32(scrollPageSize)

	for {
		req := &pb.ScrollPoints{
			CollectionName: v.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		}
		if f := buildFilter(filter); f != nil {
			req.Filter = f
		}

		resp, err := v.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll: %w", err)
		}
		for _, p := range resp.GetResult() {
			chunks = append(chunks, chunkFromPayload(payloadToMap(p.GetPayload())))
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return chunks, nil
		}
	}
}

// sanitizePayload converts payload values to Qdrant values. Strings,
// integers, floats, and bools survive as-is; everything else is
// JSON-stringified since the store does not accept nested objects.
func sanitizePayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case float32:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				b = []byte(fmt.Sprint(tv))
			}
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(b)}}
		}
	}
	return out
}

// payloadToMap flattens Qdrant values back into Go values.
func payloadToMap(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

func buildFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filter))
	for k, val := range filter {
		must = append(must, fieldMatch(k, val))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
