package aws

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (c *fakeS3) GetObject(
	_ context.Context,
	params *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	key := awssdk.ToString(params.Bucket) + "/" + awssdk.ToString(params.Key)
	body, ok := c.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.InstanceEvent
}

func (s *recordingSink) Process(_ context.Context, event domain.InstanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

type recordingEnsurer struct {
	mu    sync.Mutex
	users []string
}

func (e *recordingEnsurer) Ensure(_ context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = append(e.users, userID)
	return nil
}

type fakeSQS struct{}

func (fakeSQS) ReceiveMessage(
	context.Context,
	*awssqs.ReceiveMessageInput,
	...func(*awssqs.Options),
) (*awssqs.ReceiveMessageOutput, error) {
	return &awssqs.ReceiveMessageOutput{}, nil
}

func (fakeSQS) DeleteMessage(
	context.Context,
	*awssqs.DeleteMessageInput,
	...func(*awssqs.Options),
) (*awssqs.DeleteMessageOutput, error) {
	return &awssqs.DeleteMessageOutput{}, nil
}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func setupReader(t *testing.T, objects map[string][]byte) (*Reader, *recordingSink, *recordingEnsurer) {
	t.Helper()
	shapes := NewShapeResolver(&fakeEC2{shapes: map[string]ec2types.InstanceTypeInfo{
		"t2.micro": instanceTypeInfo("t2.micro", 1, 1024),
		"m5.large": instanceTypeInfo("m5.large", 2, 8192),
	}})
	sink := &recordingSink{}
	ensurer := &recordingEnsurer{}

	r, err := NewReader(
		&fakeS3{objects: objects},
		fakeSQS{},
		"https://sqs.test/notifications",
		shapes,
		ensurer,
		sink,
	)
	require.NoError(t, err)
	return r, sink, ensurer
}

func TestReader_IngestLogFile(t *testing.T) {
	ctx := context.Background()

	t.Run("parses, resolves shapes, and feeds the sink oldest first", func(t *testing.T) {
		r, sink, ensurer := setupReader(t, map[string][]byte{
			"trail-bucket/logs/file.json": []byte(sampleLog),
		})

		require.NoError(t, r.IngestLogFile(ctx, "trail-bucket", "logs/file.json"))

		require.Len(t, sink.events, 3)
		assert.Equal(t, "i-1", sink.events[0].InstanceID)
		assert.Equal(t, domain.PowerOn, sink.events[0].State)
		assert.Equal(t, 1, sink.events[0].Shape.VCPU)
		assert.Equal(t, "m5.large", sink.events[1].Shape.InstanceType)
		assert.Equal(t, 8.0, sink.events[1].Shape.Memory)
		assert.Equal(t, domain.PowerOff, sink.events[2].State)
		assert.False(t, sink.events[1].OccurredAt.After(sink.events[2].OccurredAt))

		assert.Contains(t, ensurer.users, "123456789012")
	})

	t.Run("gzipped log files are decompressed", func(t *testing.T) {
		r, sink, _ := setupReader(t, map[string][]byte{
			"trail-bucket/logs/file.json.gz": gzipped(t, sampleLog),
		})

		require.NoError(t, r.IngestLogFile(ctx, "trail-bucket", "logs/file.json.gz"))
		assert.Len(t, sink.events, 3)
	})

	t.Run("re-ingesting yields identical event ids", func(t *testing.T) {
		objects := map[string][]byte{
			"trail-bucket/logs/file.json": []byte(sampleLog),
		}
		r, sink, _ := setupReader(t, objects)

		require.NoError(t, r.IngestLogFile(ctx, "trail-bucket", "logs/file.json"))
		require.NoError(t, r.IngestLogFile(ctx, "trail-bucket", "logs/file.json"))

		require.Len(t, sink.events, 6)
		for i := 0; i < 3; i++ {
			assert.Equal(t, sink.events[i].ID, sink.events[i+3].ID,
				"dedup depends on content-derived ids surviving re-ingestion")
		}
	})

	t.Run("missing object is an error", func(t *testing.T) {
		r, _, _ := setupReader(t, nil)
		require.Error(t, r.IngestLogFile(ctx, "trail-bucket", "logs/missing.json"))
	})
}
