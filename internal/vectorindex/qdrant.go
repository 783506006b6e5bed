package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"synapse/internal/memitem"
)

const payloadOriginalIDField = "_original_id"

type qdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantBackend connects to Qdrant over its gRPC API (default port 6334)
// and ensures the target collection exists, using cosine distance unless
// metric overrides it.
func NewQdrantBackend(ctx context.Context, dsn, collection string, dimensions int, metric string) (Backend, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	b := &qdrantBackend{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := b.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return b, nil
}

func (b *qdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch b.metric {
	case "l2", "euclid", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if b.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.dimension),
			Distance: distance,
		}),
	})
}

func pointID(memoryID string) string {
	if _, err := uuid.Parse(memoryID); err == nil {
		return memoryID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
}

func (b *qdrantBackend) Upsert(ctx context.Context, points []Point) error {
	pts := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		uuidStr := pointID(p.MemoryID)
		payload := map[string]any{
			"user_id": p.UserID,
			"tier":    string(p.Tier),
			"status":  string(p.Status),
			"content": p.Content,
			"uses":    p.Uses,
			"wilson":  p.Wilson,
		}
		if uuidStr != p.MemoryID {
			payload[payloadOriginalIDField] = p.MemoryID
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		pts = append(pts, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         pts,
	})
	return err
}

func (b *qdrantBackend) Delete(ctx context.Context, userID string, memoryIDs []string) error {
	ids := make([]*qdrant.PointId, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		ids = append(ids, qdrant.NewIDUUID(pointID(id)))
	}
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return err
}

func (b *qdrantBackend) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	limit := uint64(p.Limit)
	if limit == 0 {
		limit = 10
	}
	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", p.User),
		qdrant.NewMatch("status", string(p.Status)),
	}
	if len(p.Tiers) == 1 {
		must = append(must, qdrant.NewMatch("tier", string(p.Tiers[0])))
	}
	filter := &qdrant.Filter{Must: must}
	if len(p.FilterIDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(p.FilterIDs))
		for _, id := range p.FilterIDs {
			ids = append(ids, qdrant.NewIDUUID(pointID(id)))
		}
		filter.Must = append(filter.Must, qdrant.NewHasID(ids...))
	}

	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	hits, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for i, hit := range hits {
		var originalID, tier, content string
		var uses int64
		var wilson float64
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case payloadOriginalIDField:
					originalID = v.GetStringValue()
				case "tier":
					tier = v.GetStringValue()
				case "content":
					content = v.GetStringValue()
				case "uses":
					uses = v.GetIntegerValue()
				case "wilson":
					wilson = v.GetDoubleValue()
				}
			}
		}
		id := originalID
		if id == "" {
			id = hit.Id.GetUuid()
		}
		if len(p.Tiers) > 1 {
			match := false
			for _, t := range p.Tiers {
				if string(t) == tier {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, Result{
			MemoryID:  id,
			Position:  i,
			Score:     float64(hit.Score),
			Tier:      memitem.Tier(tier),
			Content:   content,
			Uses:      uses,
			Composite: wilson,
		})
	}
	return out, nil
}

func (b *qdrantBackend) Count(ctx context.Context, userID string) (int64, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)}}
	exact := true
	res, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: b.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	return int64(res), nil
}

func (b *qdrantBackend) FilterByEntities(ctx context.Context, userID string, words []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	should := make([]*qdrant.Condition, 0, len(words))
	for _, w := range words {
		should = append(should, qdrant.NewMatch("entities", w))
	}
	filter := &qdrant.Filter{
		Must:   []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		Should: should,
	}
	lim := uint32(limit)
	points, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: b.collection,
		Filter:         filter,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(points))
	for _, p := range points {
		var originalID string
		if p.Payload != nil {
			if v, ok := p.Payload[payloadOriginalIDField]; ok {
				originalID = v.GetStringValue()
			}
		}
		if originalID == "" {
			originalID = p.Id.GetUuid()
		}
		ids = append(ids, originalID)
	}
	return ids, nil
}
