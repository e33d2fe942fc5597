package semantic

import (
	"errors"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/logbotai/logbot/engine/domain"
)

// Payload keys. expires_at is unix milliseconds and omitted for records
// that never expire.
const (
	fieldChunkID     = "chunk_id"
	fieldContent     = "content"
	fieldSessionID   = "session_id"
	fieldChunkIndex  = "chunk_index"
	fieldTotalChunks = "total_chunks"
	fieldSourceFile  = "source_file"
	fieldTimestamp   = "timestamp"
	fieldContentHash = "content_hash"
	fieldSection     = "section"
	fieldType        = "type"
	fieldExpiresAt   = "expires_at"
)

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func toPayload(rec domain.ChunkRecord) map[string]*pb.Value {
	p := map[string]*pb.Value{
		fieldChunkID:     strValue(rec.ID),
		fieldContent:     strValue(rec.Content),
		fieldSessionID:   strValue(rec.SessionID),
		fieldChunkIndex:  intValue(int64(rec.ChunkIndex)),
		fieldTotalChunks: intValue(int64(rec.TotalChunks)),
		fieldSourceFile:  strValue(rec.Metadata.SourceFile),
		fieldTimestamp:   strValue(rec.Metadata.Timestamp.UTC().Format(time.RFC3339Nano)),
		fieldContentHash: strValue(rec.Metadata.ContentHash),
	}
	if rec.Metadata.Section != "" {
		p[fieldSection] = strValue(rec.Metadata.Section)
	}
	if rec.Metadata.Type != "" {
		p[fieldType] = strValue(rec.Metadata.Type)
	}
	if rec.ExpiresAt != nil {
		p[fieldExpiresAt] = intValue(rec.ExpiresAt.UnixMilli())
	}
	return p
}

func fromPayload(p map[string]*pb.Value) (domain.ChunkRecord, error) {
	rec := domain.ChunkRecord{
		ID:          p[fieldChunkID].GetStringValue(),
		Content:     p[fieldContent].GetStringValue(),
		SessionID:   p[fieldSessionID].GetStringValue(),
		ChunkIndex:  int(p[fieldChunkIndex].GetIntegerValue()),
		TotalChunks: int(p[fieldTotalChunks].GetIntegerValue()),
		Metadata: domain.Metadata{
			SourceFile:  p[fieldSourceFile].GetStringValue(),
			ContentHash: p[fieldContentHash].GetStringValue(),
			Section:     p[fieldSection].GetStringValue(),
			Type:        p[fieldType].GetStringValue(),
		},
	}
	if rec.ID == "" {
		return rec, errors.New("payload has no chunk_id")
	}
	if ts := p[fieldTimestamp].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return rec, fmt.Errorf("payload timestamp: %w", err)
		}
		rec.Metadata.Timestamp = t
	}
	if v, ok := p[fieldExpiresAt]; ok {
		if _, isNull := v.GetKind().(*pb.Value_NullValue); !isNull {
			t := time.UnixMilli(v.GetIntegerValue()).UTC()
			rec.ExpiresAt = &t
		}
	}
	return rec, nil
}
