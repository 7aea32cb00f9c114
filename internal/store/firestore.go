package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-aiops/internal/models"
)

// FirestoreStore keeps one document per incident, keyed by incident id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type incidentDoc struct {
	ResourceID  string    `firestore:"resource_id"`
	MetricName  string    `firestore:"metric_name"`
	Value       string    `firestore:"value"`
	ObservedAt  time.Time `firestore:"observed_at"`
	AnomalyKind string    `firestore:"anomaly_kind"`
	IsCritical  bool      `firestore:"is_critical"`
	Evidence    []string  `firestore:"evidence"`
	CreatedAt   time.Time `firestore:"created_at"`
}

// OpenFirestore connects to Firestore for projectID.
func OpenFirestore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore store requires a project id")
	}
	if collection == "" {
		collection = "incidents"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

// Put creates the document. Create fails instead of overwriting an existing id.
func (s *FirestoreStore) Put(ctx context.Context, rec models.IncidentRecord) error {
	doc := incidentDoc{
		ResourceID:  rec.ResourceID,
		MetricName:  rec.MetricName,
		Value:       rec.Value.String(),
		ObservedAt:  rec.ObservedAt.UTC(),
		AnomalyKind: rec.AnomalyKind,
		IsCritical:  rec.IsCritical,
		Evidence:    models.TruncateEvidence(rec.Evidence),
		CreatedAt:   rec.CreatedAt.UTC(),
	}
	if _, err := s.client.Collection(s.collection).Doc(rec.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrDuplicateID
		}
		return fmt.Errorf("firestore create %s: %w", rec.ID, err)
	}
	return nil
}

// Scan reads every document, newest observation first.
func (s *FirestoreStore) Scan(ctx context.Context) ([]models.IncidentRecord, error) {
	iter := s.client.Collection(s.collection).OrderBy("observed_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var out []models.IncidentRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore scan: %w", err)
		}
		var doc incidentDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode incident %s: %w", snap.Ref.ID, err)
		}
		value, err := decimal.NewFromString(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("decode value of %s: %w", snap.Ref.ID, err)
		}
		evidence := doc.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		out = append(out, models.IncidentRecord{
			ID:          snap.Ref.ID,
			ResourceID:  doc.ResourceID,
			MetricName:  doc.MetricName,
			Value:       value,
			ObservedAt:  doc.ObservedAt.UTC(),
			AnomalyKind: doc.AnomalyKind,
			IsCritical:  doc.IsCritical,
			Evidence:    evidence,
			CreatedAt:   doc.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// Close closes the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
