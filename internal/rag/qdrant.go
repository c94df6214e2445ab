package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDKey holds the original chunk id inside each Qdrant payload.
// Qdrant only accepts UUID or integer point ids, so chunk ids are mapped to a
// name-based UUID and the readable id travels in the payload.
const payloadIDKey = "chunk_id"

// pointNamespace seeds the name-based point UUIDs.
var pointNamespace = uuid.MustParse("6f2b8a5e-3c1d-4e7a-9b0f-5d4c3b2a1908")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. Indices map
// one-to-one onto Qdrant collections.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore connects to Qdrant. No collection is touched until an
// operation names one.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// CreateIndex creates a collection with the requested size and distance.
func (s *QdrantStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if spec.Type != "" && spec.Type != IndexTypeHNSW {
		return fmt.Errorf("qdrant: unsupported index type %q", spec.Type)
	}
	if spec.Dimension <= 0 {
		return fmt.Errorf("qdrant: dimension must be positive, got %d", spec.Dimension)
	}
	distance, err := qdrantDistance(spec.Metric)
	if err != nil {
		return err
	}

	exists, err := s.client.CollectionExists(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return fmt.Errorf("qdrant: %q: %w", spec.Name, ErrIndexExists)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.Dimension), //nolint:gosec // checked positive above
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", spec.Name, err)
	}
	return nil
}

// ListIndices returns all collection names.
func (s *QdrantStore) ListIndices(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections failed: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndex drops the collection.
func (s *QdrantStore) DeleteIndex(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant: delete collection %q failed: %w", name, err)
	}
	return nil
}

// Insert upserts one point per id and waits for the write to be applied.
func (s *QdrantStore) Insert(ctx context.Context, name string, vectors [][]float32, ids []string, metadata []Metadata) error {
	if err := ValidateInsert(vectors, ids, metadata); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		payload := map[string]any{}
		for k, v := range metadataAt(metadata, i) {
			payload[k] = payloadValue(v)
		}
		payload[payloadIDKey] = id

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search runs a nearest-neighbour query with an optional payload filter.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, topK int, filters Filters) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK) //nolint:gosec // checked positive above
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filters),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		md, id := fromPayload(r.GetPayload())
		if id == "" {
			id = r.GetId().GetUuid()
		}
		out = append(out, SearchResult{ID: id, Score: r.GetScore(), Metadata: md})
	}
	return out, nil
}

// GetByID fetches a point with its vector. Absent points return nil, nil.
func (s *QdrantStore) GetByID(ctx context.Context, name, id string) (*StoredVector, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get point failed: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	md, _ := fromPayload(points[0].GetPayload())
	return &StoredVector{
		ID:       id,
		Vector:   denseVector(points[0].GetVectors()),
		Metadata: md,
	}, nil
}

// DeleteByIDs removes the points for the given chunk ids.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Stats reads point count, size and distance from the collection info.
func (s *QdrantStore) Stats(ctx context.Context, name string) (IndexStats, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return IndexStats{}, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return IndexStats{}, fmt.Errorf("qdrant: %q: %w", name, ErrIndexNotFound)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return IndexStats{}, fmt.Errorf("qdrant: collection info failed: %w", err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return IndexStats{
		Name:         name,
		TotalVectors: info.GetPointsCount(),
		Dimension:    int(params.GetSize()), //nolint:gosec // vector sizes are small
		Metric:       metricFromQdrant(params.GetDistance()),
	}, nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID maps a chunk id onto its deterministic point UUID.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

func qdrantDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case MetricCosine, "":
		return qdrant.Distance_Cosine, nil
	case MetricL2:
		return qdrant.Distance_Euclid, nil
	case MetricInnerProduct:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("qdrant: unsupported metric %q", m)
	}
}

func metricFromQdrant(d qdrant.Distance) Metric {
	switch d {
	case qdrant.Distance_Euclid:
		return MetricL2
	case qdrant.Distance_Dot:
		return MetricInnerProduct
	default:
		return MetricCosine
	}
}

// qdrantFilter turns equality filters into a Must filter. Keys are sorted so
// the generated request is stable.
func qdrantFilter(filters Filters) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		switch v := filters[k].(type) {
		case bool:
			must = append(must, qdrant.NewMatchBool(k, v))
		case int:
			must = append(must, qdrant.NewMatchInt(k, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(k, v))
		case float64:
			// JSON decoding yields float64 for every number. Whole values
			// match the int64 payloads written by Insert.
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				must = append(must, qdrant.NewMatchInt(k, int64(v)))
				continue
			}
			must = append(must, qdrant.NewRange(k, &qdrant.Range{Gte: &v, Lte: &v}))
		case string:
			must = append(must, qdrant.NewMatch(k, v))
		default:
			must = append(must, qdrant.NewMatch(k, fmt.Sprint(v)))
		}
	}
	return &qdrant.Filter{Must: must}
}

// denseVector reads the dense vector of a point. Servers that predate the
// dense oneof only fill the flat Data field.
func denseVector(v *qdrant.VectorsOutput) []float32 {
	out := v.GetVector()
	if d := out.GetDense().GetData(); len(d) > 0 {
		return d
	}
	return out.GetData() //nolint:staticcheck // fallback for older servers
}

// payloadValue narrows metadata values to the scalar types NewValueMap accepts.
func payloadValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return fmt.Sprint(t)
	}
}

// fromPayload converts a Qdrant payload back to Metadata and extracts the
// chunk id.
func fromPayload(p map[string]*qdrant.Value) (Metadata, string) {
	md := make(Metadata, len(p))
	var id string
	for k, v := range p {
		if k == payloadIDKey {
			id = v.GetStringValue()
			continue
		}
		switch v.GetKind().(type) {
		case *qdrant.Value_IntegerValue:
			md[k] = int(v.GetIntegerValue())
		case *qdrant.Value_DoubleValue:
			md[k] = v.GetDoubleValue()
		case *qdrant.Value_BoolValue:
			md[k] = v.GetBoolValue()
		default:
			md[k] = v.GetStringValue()
		}
	}
	return md, id
}
