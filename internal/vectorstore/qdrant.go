package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/ragbot/internal/errs"
)

// pointNamespace derives stable Qdrant point UUIDs from document ids, which
// are free-form strings Qdrant would not accept as ids.
var pointNamespace = uuid.MustParse("6f1c3b1e-2f0b-4c7e-9a57-3f7f0f6b8a21")

// scrollPageSize bounds a single Scroll round trip.
const scrollPageSize = 100

// Payload keys.
const (
	payloadDocID      = "doc_id"
	payloadText       = "text"
	payloadChatbotID  = "chatbot_id"
	payloadChunkIndex = "chunk_index"
	payloadStartIndex = "start_index"
	payloadEndIndex   = "end_index"
	payloadUploadedAt = "uploaded_at"
	payloadSource     = "source"
	payloadTitle      = "title"
)

// QdrantConfig locates the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantBackend stores each collection as a Qdrant collection with a single
// unnamed cosine vector.
type QdrantBackend struct {
	client *qdrant.Client
	host   string
	port   int
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend connects to Qdrant. It does not wait for the server; use
// WaitReady for that.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantBackend{client: client, host: cfg.Host, port: cfg.Port}, nil
}

// Health performs a single health check against Qdrant.
func (s *QdrantBackend) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("qdrant health check at %s:%d: %w", s.host, s.port, classify(err))
	}
	if result == nil || result.GetTitle() == "" {
		return errs.Wrap(errs.ErrUnavailable, "qdrant health check returned an invalid response")
	}
	return nil
}

func (s *QdrantBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// CreateCollection creates the collection and keyword indexes on the payload
// fields used for filtering.
func (s *QdrantBackend) CreateCollection(ctx context.Context, name string, spec CollectionSpec) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(err)
	}

	for _, field := range []string{payloadDocID, payloadChatbotID, payloadSource} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, classify(err))
		}
	}
	return nil
}

func (s *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return classify(err)
	}
	return nil
}

// Upsert writes all points in one request and waits for it to be applied.
func (s *QdrantBackend) Upsert(ctx context.Context, name string, docs []Document) error {
	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: qdrant.NewValueMap(toPayload(doc)),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Get returns the stored documents for ids. Vectors are not fetched.
func (s *QdrantBackend) Get(ctx context.Context, name string, ids []string) ([]Document, error) {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, classify(err)
	}

	docs := make([]Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, fromPayload(p.GetPayload()))
	}
	return docs, nil
}

func (s *QdrantBackend) Delete(ctx context.Context, name string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Query runs a nearest-neighbour search. Qdrant scores cosine collections by
// similarity, which is converted to a distance here.
func (s *QdrantBackend) Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, classify(err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Document: fromPayload(r.GetPayload()),
			Distance: 1 - float64(r.GetScore()),
		})
	}
	return matches, nil
}

// Scroll walks the collection in point-id order until offset+limit points
// have been seen and returns the last limit of them.
func (s *QdrantBackend) Scroll(ctx context.Context, name string, offset, limit int) ([]Document, error) {
	var (
		out     []Document
		next    *qdrant.PointId
		skipped int
	)

	for len(out) < limit {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize + 1)),
			Offset:         next,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, classify(err)
		}

		page := results
		if len(results) > scrollPageSize {
			page = results[:scrollPageSize]
			next = results[scrollPageSize].GetId()
		} else {
			next = nil
		}

		for _, p := range page {
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, fromPayload(p.GetPayload()))
			if len(out) == limit {
				break
			}
		}

		if next == nil {
			break
		}
	}

	if out == nil {
		out = []Document{}
	}
	return out, nil
}

func (s *QdrantBackend) Count(ctx context.Context, name string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

// Close closes the Qdrant client connection.
func (s *QdrantBackend) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func pointID(docID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

func toPayload(doc Document) map[string]any {
	return map[string]any{
		payloadDocID:      doc.ID,
		payloadText:       doc.Text,
		payloadChatbotID:  doc.Metadata.ChatbotID,
		payloadChunkIndex: doc.Metadata.ChunkIndex,
		payloadStartIndex: doc.Metadata.StartIndex,
		payloadEndIndex:   doc.Metadata.EndIndex,
		payloadUploadedAt: doc.Metadata.UploadedAt.UTC().Format(time.RFC3339),
		payloadSource:     doc.Metadata.Source,
		payloadTitle:      doc.Metadata.Title,
	}
}

func fromPayload(payload map[string]*qdrant.Value) Document {
	uploadedAt, err := time.Parse(time.RFC3339, payload[payloadUploadedAt].GetStringValue())
	if err != nil {
		uploadedAt = time.Time{}
	}
	return Document{
		ID:   payload[payloadDocID].GetStringValue(),
		Text: payload[payloadText].GetStringValue(),
		Metadata: Metadata{
			ChatbotID:  payload[payloadChatbotID].GetStringValue(),
			ChunkIndex: int(payload[payloadChunkIndex].GetIntegerValue()),
			StartIndex: int(payload[payloadStartIndex].GetIntegerValue()),
			EndIndex:   int(payload[payloadEndIndex].GetIntegerValue()),
			UploadedAt: uploadedAt,
			Source:     payload[payloadSource].GetStringValue(),
			Title:      payload[payloadTitle].GetStringValue(),
		},
	}
}

// dimensionPattern matches Qdrant's "Vector dimension error: expected dim: 384, got 1536".
var dimensionPattern = regexp.MustCompile(`expected dim: (\d+), got (\d+)`)

// classify maps a Qdrant gRPC failure onto the errs taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if m := dimensionPattern.FindStringSubmatch(err.Error()); m != nil {
		expected, _ := strconv.Atoi(m[1])
		actual, _ := strconv.Atoi(m[2])
		return &errs.DimensionMismatchError{Expected: expected, Actual: actual}
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: qdrant: %v", errs.ErrBackend, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return errs.Wrap(errs.ErrNotFound, "qdrant: %s", st.Message())
	case codes.AlreadyExists:
		return errs.Wrap(errs.ErrAlreadyExists, "qdrant: %s", st.Message())
	case codes.Unavailable:
		return errs.Wrap(errs.ErrUnavailable, "qdrant: %s", st.Message())
	case codes.DeadlineExceeded:
		return errs.Wrap(errs.ErrTimeout, "qdrant: %s", st.Message())
	case codes.ResourceExhausted:
		return errs.Wrap(errs.ErrRateLimited, "qdrant: %s", st.Message())
	case codes.InvalidArgument:
		return errs.Wrap(errs.ErrInvalidInput, "qdrant: %s", st.Message())
	default:
		return errs.Backend("qdrant", st.Message())
	}
}
