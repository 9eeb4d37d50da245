package aws

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventSink receives fully-resolved instance events. Satisfied by the event
// processor.
type EventSink interface {
	Process(ctx context.Context, event domain.InstanceEvent) error
}

// AccountEnsurer creates the owning user (and its task-lock row) on first
// sight of an account in the log stream.
type AccountEnsurer interface {
	Ensure(ctx context.Context, userID string) error
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
}

// Reader consumes S3 object-created notifications for CloudTrail log files,
// fetches and parses each file, resolves instance shapes, and feeds the
// resulting events to the processor. It is the log-analysis boundary: the
// core trusts the timestamps and shapes it produces.
type Reader struct {
	s3Client  S3API
	sqsClient SQSAPI
	queueURL  string
	shapes    *ShapeResolver
	accounts  AccountEnsurer
	sink      EventSink
	waitTime  int32
}

func NewReader(
	s3Client S3API,
	sqsClient SQSAPI,
	queueURL string,
	shapes *ShapeResolver,
	accounts AccountEnsurer,
	sink EventSink,
) (*Reader, error) {
	if s3Client == nil || sqsClient == nil {
		return nil, fmt.Errorf("aws clients are required")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("notification queue url is required")
	}
	return &Reader{
		s3Client:  s3Client,
		sqsClient: sqsClient,
		queueURL:  queueURL,
		shapes:    shapes,
		accounts:  accounts,
		sink:      sink,
		waitTime:  20,
	}, nil
}

type s3Notification struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Run polls the notification queue until ctx is cancelled. A message is
// deleted only after every log file it references was ingested, so a crash
// mid-file redelivers the whole message; event inserts are keyed on content
// and runs are rebuilt deterministically, making re-ingestion harmless.
func (r *Reader) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		out, err := r.sqsClient.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            awssdk.String(r.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     r.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("receive log notification failed")
			continue
		}

		for _, msg := range out.Messages {
			if err := r.handleNotification(ctx, awssdk.ToString(msg.Body)); err != nil {
				logger.Error().Err(err).Msg("log ingestion failed, leaving message for redelivery")
				continue
			}
			r.deleteMessage(ctx, msg)
		}
	}
}

func (r *Reader) handleNotification(ctx context.Context, body string) error {
	var notification s3Notification
	if err := json.Unmarshal([]byte(body), &notification); err != nil {
		return fmt.Errorf("decode s3 notification: %w", err)
	}

	for _, record := range notification.Records {
		if err := r.IngestLogFile(ctx, record.S3.Bucket.Name, record.S3.Object.Key); err != nil {
			return err
		}
	}
	return nil
}

// IngestLogFile fetches one CloudTrail log object and processes every
// power-state event in it, oldest first.
func (r *Reader) IngestLogFile(ctx context.Context, bucket, key string) error {
	logger := zerolog.Ctx(ctx)

	obj, err := r.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return fmt.Errorf("fetch log %s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	body := obj.Body
	reader := io.Reader(body)
	if strings.HasSuffix(key, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("decompress log %s/%s: %w", bucket, key, err)
		}
		defer gz.Close()
		reader = gz
	}

	raw, err := ParseLogFile(reader)
	if err != nil {
		return fmt.Errorf("parse log %s/%s: %w", bucket, key, err)
	}

	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].OccurredAt.Before(raw[j].OccurredAt)
	})

	for _, event := range raw {
		shape, err := r.shapes.Resolve(ctx, event.InstanceType)
		if err != nil {
			return err
		}
		if err := r.accounts.Ensure(ctx, event.UserID); err != nil {
			return err
		}
		if err := r.sink.Process(ctx, domain.InstanceEvent{
			ID:         eventID(event),
			UserID:     event.UserID,
			InstanceID: event.InstanceID,
			ImageID:    event.ImageID,
			State:      event.State,
			OccurredAt: event.OccurredAt,
			Shape:      shape,
		}); err != nil {
			return err
		}
	}

	logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int("events", len(raw)).
		Msg("ingested cloudtrail log file")
	return nil
}

// eventID derives a stable identifier from the event's content so that
// re-ingesting the same log file after a redelivery inserts nothing new.
func eventID(event RawEvent) string {
	key := fmt.Sprintf("%s|%s|%s", event.InstanceID, event.State,
		event.OccurredAt.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (r *Reader) deleteMessage(ctx context.Context, msg sqstypes.Message) {
	_, err := r.sqsClient.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      awssdk.String(r.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete log notification")
	}
}
