package tally_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"

	"github.com/tckz/tally-counter/internal/tally"
	"github.com/tckz/tally-counter/internal/tally/tallytest"
)

// Run with the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	$(gcloud beta emulators datastore env-init)
func TestDatastoreStore(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST is not set")
	}

	tallytest.Suite{
		New: func(t *testing.T) tally.Store {
			cl, err := datastore.NewClient(context.Background(), "tally-test")
			if err != nil {
				t.Fatalf("datastore.NewClient: %v", err)
			}
			s := tally.NewDatastoreStore(cl, "test", "Tally", uuid.NewString())
			t.Cleanup(func() { s.Close() })
			return s
		},
		Concurrent: 16,
		Sequential: 100,
	}.Run(t)
}

// Run against MinIO or a real bucket, e.g.
//
//	TALLY_TEST_S3_BUCKET=tally TALLY_TEST_S3_ENDPOINT=http://localhost:9000 \
//	AWS_ACCESS_KEY_ID=minioadmin AWS_SECRET_ACCESS_KEY=minioadmin AWS_REGION=us-east-1 go test ./...
func TestS3Store(t *testing.T) {
	bucket := os.Getenv("TALLY_TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("TALLY_TEST_S3_BUCKET is not set")
	}

	cl, err := tally.NewS3Client(context.Background(), tally.S3ClientConfig{
		Endpoint: os.Getenv("TALLY_TEST_S3_ENDPOINT"),
	})
	if err != nil {
		t.Fatalf("NewS3Client: %v", err)
	}

	tallytest.Suite{
		New: func(t *testing.T) tally.Store {
			return tally.NewS3Store(cl, bucket, "tally-test/"+uuid.NewString()+".json")
		},
		Concurrent: 16,
		Sequential: 100,
	}.Run(t)
}
