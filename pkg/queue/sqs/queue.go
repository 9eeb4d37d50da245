package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/de-tools/usage-meter/pkg/queue"
	"github.com/rs/zerolog"
)

// SQS caps message delays at 15 minutes.
const maxDelay = 900 * time.Second

// Client is the slice of the SQS API the queue uses; the concrete
// *sqs.Client satisfies it.
type Client interface {
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
}

// Queue is the distributed task queue backend over Amazon SQS. Delivery is
// at least once: a retryable failure simply leaves the message in flight so
// the visibility timeout redelivers it, and SQS's ApproximateReceiveCount
// serves as the attempt counter.
type Queue struct {
	client      Client
	queueURL    string
	maxAttempts int
	classify    queue.Classifier
	waitTime    int32
}

type Options struct {
	// MaxAttempts bounds deliveries per message. Default 5.
	MaxAttempts int
	// Classify overrides the retryable/terminal decision. Defaults to
	// queue.IsRetryable.
	Classify queue.Classifier
	// WaitTimeSeconds for long polling. Default 20.
	WaitTimeSeconds int32
}

func New(client Client, queueURL string, opts Options) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is nil")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Classify == nil {
		opts.Classify = queue.IsRetryable
	}
	if opts.WaitTimeSeconds <= 0 {
		opts.WaitTimeSeconds = 20
	}
	return &Queue{
		client:      client,
		queueURL:    queueURL,
		maxAttempts: opts.MaxAttempts,
		classify:    opts.Classify,
		waitTime:    opts.WaitTimeSeconds,
	}, nil
}

func (q *Queue) Submit(ctx context.Context, payload queue.Payload, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	var delaySeconds int32
	if delay > 0 {
		delaySeconds = int32(delay / time.Second)
	}

	_, err = q.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("send task message: %w", err)
	}
	return nil
}

// Run polls the queue until ctx is cancelled, invoking handler for each
// message. Successful and terminally-failed deliveries are deleted;
// retryable failures are left for the visibility timeout to redeliver until
// their attempt budget runs out.
func (q *Queue) Run(ctx context.Context, handler queue.Handler) {
	logger := zerolog.Ctx(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		out, err := q.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     q.waitTime,
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("receive from task queue failed")
			continue
		}

		for _, msg := range out.Messages {
			q.handle(ctx, handler, msg)
		}
	}
}

func (q *Queue) handle(ctx context.Context, handler queue.Handler, msg types.Message) {
	logger := zerolog.Ctx(ctx)

	var payload queue.Payload
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &payload); err != nil {
		logger.Error().Err(err).Msg("dropping malformed task message")
		q.delete(ctx, msg)
		return
	}

	attempt := receiveCount(msg)
	err := handler(ctx, payload)
	if err == nil {
		q.delete(ctx, msg)
		return
	}

	if q.classify(err) && attempt < q.maxAttempts {
		logger.Warn().Err(err).
			Str("task_id", payload.TaskID).
			Int("attempt", attempt).
			Msg("task failed, leaving message for redelivery")
		return
	}

	logger.Error().Err(err).
		Str("task_id", payload.TaskID).
		Int("attempt", attempt).
		Msg("task failed terminally, removing message")
	q.delete(ctx, msg)
}

func (q *Queue) delete(ctx context.Context, msg types.Message) {
	_, err := q.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete task message")
	}
}

func receiveCount(msg types.Message) int {
	raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return 1
	}
	return count
}
