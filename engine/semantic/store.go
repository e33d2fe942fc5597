// Package semantic holds the vector-store backends for chunk records: a
// Qdrant collection for production and an in-memory map for tests and
// single-process runs.
package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/logbotai/logbot/engine/domain"
)

// scrollPage is the number of points fetched per Scroll call.
const scrollPage = 256

// pointNamespace scopes the UUIDv5 point ids derived from chunk ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("logbot/chunk"))

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

var (
	_ domain.Store          = (*VectorStore)(nil)
	_ domain.SessionCounter = (*VectorStore)(nil)
)

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

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Ready checks that Qdrant answers.
func (v *VectorStore) Ready(ctx context.Context) error {
	if _, err := v.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("semantic: ready: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if the
// collection doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}

	indexes := []struct {
		field string
		typ   pb.FieldType
	}{
		{fieldSessionID, pb.FieldType_FieldTypeKeyword},
		{fieldExpiresAt, pb.FieldType_FieldTypeInteger},
	}
	for _, ix := range indexes {
		typ := ix.typ
		_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: v.collection,
			FieldName:      ix.field,
			FieldType:      &typ,
			Wait:           proto.Bool(true),
		})
		if err != nil {
			return fmt.Errorf("semantic: index %s.%s: %w", v.collection, ix.field, err)
		}
	}
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

// PointID maps a chunk id to its deterministic Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Upsert stores one chunk record. Re-upserting the same chunk id overwrites
// the same point.
func (v *VectorStore) Upsert(ctx context.Context, rec domain.ChunkRecord) error {
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           proto.Bool(true),
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(rec.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Embedding},
				},
			},
			Payload: toPayload(rec),
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Scan returns every record of the session that has not expired at now.
// The session and expiry predicates run inside Qdrant.
func (v *VectorStore) Scan(ctx context.Context, sessionID string, now time.Time) ([]domain.ChunkRecord, error) {
	req := &pb.ScrollPoints{
		CollectionName: v.collection,
		Filter:         sessionFilter(sessionID, now),
		Limit:          proto.Uint32(scrollPage),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}

	var out []domain.ChunkRecord
	for {
		resp, err := v.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll session %s: %w", sessionID, err)
		}
		for _, p := range resp.GetResult() {
			rec, err := fromPayload(p.GetPayload())
			if err != nil {
				return nil, fmt.Errorf("semantic: point %s: %w", p.GetId().GetUuid(), err)
			}
			rec.Embedding = denseVector(p.GetVectors())
			out = append(out, rec)
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			break
		}
		req.Offset = next
	}
	domain.SortRecords(out)
	return out, nil
}

// CountSession counts the session's points, split by expiry at now.
func (v *VectorStore) CountSession(ctx context.Context, sessionID string, now time.Time) (domain.SessionCounts, error) {
	count := func(f *pb.Filter) (int, error) {
		resp, err := v.points.Count(ctx, &pb.CountPoints{
			CollectionName: v.collection,
			Filter:         f,
			Exact:          proto.Bool(true),
		})
		if err != nil {
			return 0, fmt.Errorf("semantic: count session %s: %w", sessionID, err)
		}
		return int(resp.GetResult().GetCount()), nil
	}
	total, err := count(&pb.Filter{Must: []*pb.Condition{fieldMatch(fieldSessionID, sessionID)}})
	if err != nil {
		return domain.SessionCounts{}, err
	}
	active, err := count(sessionFilter(sessionID, now))
	if err != nil {
		return domain.SessionCounts{}, err
	}
	return domain.SessionCounts{Active: active, Expired: total - active}, nil
}

// sessionFilter matches session_id == sessionID AND (expires_at > now OR
// expires_at is absent).
func sessionFilter(sessionID string, now time.Time) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			fieldMatch(fieldSessionID, sessionID),
			{
				ConditionOneOf: &pb.Condition_Filter{
					Filter: &pb.Filter{
						Should: []*pb.Condition{
							{
								ConditionOneOf: &pb.Condition_Field{
									Field: &pb.FieldCondition{
										Key:   fieldExpiresAt,
										Range: &pb.Range{Gt: proto.Float64(float64(now.UnixMilli()))},
									},
								},
							},
							{
								ConditionOneOf: &pb.Condition_IsEmpty{
									IsEmpty: &pb.IsEmptyCondition{Key: fieldExpiresAt},
								},
							},
						},
					},
				},
			},
		},
	}
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

func denseVector(v *pb.VectorsOutput) []float32 {
	out := v.GetVector()
	if d := out.GetDense().GetData(); len(d) > 0 {
		return d
	}
	return out.GetData()
}
