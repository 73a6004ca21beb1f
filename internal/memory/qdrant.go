package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"comicforge/internal/config"
)

// Embedder turns text into a vector. The LLM client satisfies this.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Store is long-term narrative memory over a qdrant collection. Segments are
// embedded and upserted per session; recall is a filtered similarity search,
// so one session never surfaces another session's story.
type Store struct {
	client   *qdrant.Client
	embedder Embedder
	cfg      config.QdrantConfig
	log      zerolog.Logger
}

func NewStore(ctx context.Context, cfg config.QdrantConfig, embedder Embedder, log zerolog.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.APIKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	s := &Store{client: client, embedder: embedder, cfg: cfg, log: log}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", s.cfg.Collection, err)
	}
	s.log.Info().Str("collection", s.cfg.Collection).Msg("created qdrant collection")
	return nil
}

// Remember embeds one story segment and stores it under the session.
func (s *Store) Remember(ctx context.Context, sessionID string, beat int, text string) error {
	vector, err := s.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed segment: %w", err)
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(uuid.NewString()),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"session_id": sessionID,
					"beat":       beat,
					"text":       text,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert segment: %w", err)
	}
	return nil
}

// Recall returns up to limit stored segments of this session most similar
// to the query, ordered by similarity.
func (s *Store) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("session_id", sessionID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}

	results := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.Payload["text"]; ok {
			if text := v.GetStringValue(); text != "" {
				results = append(results, text)
			}
		}
	}
	return results, nil
}

// Close releases the underlying grpc connection.
func (s *Store) Close() error { return s.client.Close() }
