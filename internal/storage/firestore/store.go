// Package firestore implements push.Store on Google Cloud Firestore.
//
// Layout:
//
//	device_tokens/{sha256(user_id, token)}
//	notification_topics/{sha256(name)}
//	topic_members/{sha256(topic, user_id)}
//	notification_logs/{id}
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	tokensCollection  = "device_tokens"
	topicsCollection  = "notification_topics"
	membersCollection = "topic_members"
	logsCollection    = "notification_logs"

	// maxInValues is Firestore's limit on the values of an "in" filter.
	maxInValues = 30
)

// FirestoreStore implements push.Store using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "FirestoreStore"),
	}, nil
}

// docID hashes identity parts into a stable, evenly distributed document ID.
func docID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// deleteQuery removes every document the query returns and reports how many
// were deleted. Each BulkWriter job is checked after End, so an asynchronous
// commit failure is returned rather than dropped.
func (s *FirestoreStore) deleteQuery(ctx context.Context, q firestore.Query) (int, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	bulkWriter := s.client.BulkWriter(ctx)
	var jobs []writeJob
	var enqueueErr error
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bulkWriter.End()
			return 0, fmt.Errorf("firestore iteration failed: %w", err)
		}
		job, err := bulkWriter.Delete(doc.Ref)
		if err != nil {
			s.logger.Error("Failed to enqueue document for deletion", "err", err, "doc_id", doc.Ref.ID)
			if enqueueErr == nil {
				enqueueErr = err
			}
			continue
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	n, err := awaitJobs(jobs)
	if err != nil {
		s.logger.Error("Bulk delete incomplete", "deleted", n, "enqueued", len(jobs), "err", err)
	}
	if enqueueErr != nil {
		err = errors.Join(fmt.Errorf("failed to enqueue one or more documents for deletion: %w", enqueueErr), err)
	}
	return n, err
}

// writeJob is the part of *firestore.BulkWriterJob that deleteQuery reads.
type writeJob interface {
	Results() (*firestore.WriteResult, error)
}

// awaitJobs blocks on each job and counts the successful ones.
func awaitJobs(jobs []writeJob) (int, error) {
	var errs []error
	n := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if len(errs) > 0 {
		return n, fmt.Errorf("%d of %d bulk writes failed: %w", len(errs), len(jobs), errors.Join(errs...))
	}
	return n, nil
}

func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
