package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/treeline-ai/treeline/pkg/config"
)

// qdrantIndex implements Index on a Qdrant server over gRPC.
type qdrantIndex struct {
	client *qdrant.Client
}

// NewQdrant connects to Qdrant using the given config.
func NewQdrant(cfg config.QdrantConfig) (Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.EnableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return &qdrantIndex{client: client}, nil
}

func (q *qdrantIndex) EnsureCollections(ctx context.Context, dimension int) error {
	for _, collection := range Collections {
		exists, err := q.client.CollectionExists(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to check collection %s: %w", collection, err)
		}
		if !exists {
			err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil && !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("failed to create collection %s: %w", collection, err)
			}
		}

		// Full-text index on content for lexical candidate matching,
		// keyword index on doc_id for delete-by-document and filters.
		_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      "content",
			FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to index content on %s: %w", collection, err)
		}
		_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      "doc_id",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to index doc_id on %s: %w", collection, err)
		}
	}
	return nil
}

func (q *qdrantIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for key, value := range p.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

func (q *qdrantIndex) DeleteByDoc(ctx context.Context, collection string, docID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: docFilter(&Filter{DocIDs: []string{docID}}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for document %s from %s: %w", docID, collection, err)
	}
	return nil
}

func (q *qdrantIndex) DenseSearch(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := docFilter(filter); f != nil {
		searchRequest.Filter = f
	}

	result, err := q.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(result.Result))
	for _, point := range result.Result {
		hits = append(hits, Hit{
			ID:      pointID(point.Id),
			Score:   point.Score,
			Payload: convertPayload(point.Payload),
		})
	}
	return hits, nil
}

func (q *qdrantIndex) LexicalCandidates(ctx context.Context, collection string, terms []string, limit int, filter *Filter) ([]Hit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	// Any-term text match narrows the scroll to plausible candidates;
	// BM25 ranking happens client-side.
	conditions := make([]*qdrant.Condition, 0, len(terms))
	for _, term := range terms {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "content",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: term}},
				},
			},
		})
	}
	scrollFilter := &qdrant.Filter{Should: conditions}
	if f := docFilter(filter); f != nil {
		scrollFilter.Must = f.Must
	}

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         scrollFilter,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll %s for lexical candidates: %w", collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hits = append(hits, Hit{
			ID:      pointID(point.Id),
			Payload: convertPayload(point.Payload),
		})
	}
	return hits, nil
}

func (q *qdrantIndex) Close() error {
	return q.client.Close()
}

func docFilter(filter *Filter) *qdrant.Filter {
	if filter == nil || len(filter.DocIDs) == 0 {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "doc_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: filter.DocIDs},
						},
					},
				},
			},
		}},
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

func convertPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		metadata[key] = convertValue(value)
	}
	return metadata
}

func convertValue(value *qdrant.Value) interface{} {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		return convertPayload(v.StructValue.Fields)
	default:
		return nil
	}
}
