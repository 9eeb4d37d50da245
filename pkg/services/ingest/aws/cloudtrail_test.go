package aws

import (
	"strings"
	"testing"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{
	"Records": [
		{
			"eventName": "RunInstances",
			"eventSource": "ec2.amazonaws.com",
			"eventTime": "2025-06-10T09:00:00Z",
			"userIdentity": {"accountId": "123456789012"},
			"responseElements": {
				"instancesSet": {
					"items": [
						{"instanceId": "i-1", "imageId": "ami-1", "instanceType": "t2.micro"},
						{"instanceId": "i-2", "imageId": "ami-1", "instanceType": "m5.large"}
					]
				}
			}
		},
		{
			"eventName": "StopInstances",
			"eventSource": "ec2.amazonaws.com",
			"eventTime": "2025-06-10T11:00:00Z",
			"userIdentity": {"accountId": "123456789012"},
			"responseElements": {
				"instancesSet": {
					"items": [
						{"instanceId": "i-1", "imageId": "ami-1", "instanceType": "t2.micro"}
					]
				}
			}
		},
		{
			"eventName": "DescribeInstances",
			"eventSource": "ec2.amazonaws.com",
			"eventTime": "2025-06-10T11:05:00Z",
			"userIdentity": {"accountId": "123456789012"}
		},
		{
			"eventName": "StartInstances",
			"eventSource": "ec2.amazonaws.com",
			"eventTime": "2025-06-10T12:00:00Z",
			"userIdentity": {"accountId": "123456789012"},
			"responseElements": null
		},
		{
			"eventName": "TerminateInstances",
			"eventSource": "sagemaker.amazonaws.com",
			"eventTime": "2025-06-10T13:00:00Z",
			"userIdentity": {"accountId": "123456789012"},
			"responseElements": {
				"instancesSet": {"items": [{"instanceId": "i-9"}]}
			}
		}
	]
}`

func TestParseLogFile(t *testing.T) {
	t.Run("extracts power events and skips the rest", func(t *testing.T) {
		events, err := ParseLogFile(strings.NewReader(sampleLog))
		require.NoError(t, err)

		// RunInstances fans out per instance; DescribeInstances, the dry-run
		// StartInstances, and the non-EC2 record are all skipped.
		require.Len(t, events, 3)

		assert.Equal(t, "i-1", events[0].InstanceID)
		assert.Equal(t, domain.PowerOn, events[0].State)
		assert.Equal(t, "123456789012", events[0].UserID)
		assert.Equal(t, "t2.micro", events[0].InstanceType)
		assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), events[0].OccurredAt)

		assert.Equal(t, "i-2", events[1].InstanceID)
		assert.Equal(t, "m5.large", events[1].InstanceType)

		assert.Equal(t, "i-1", events[2].InstanceID)
		assert.Equal(t, domain.PowerOff, events[2].State)
		assert.Equal(t, time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC), events[2].OccurredAt)
	})

	t.Run("records without an instance id are skipped", func(t *testing.T) {
		events, err := ParseLogFile(strings.NewReader(`{
			"Records": [{
				"eventName": "StopInstances",
				"eventSource": "ec2.amazonaws.com",
				"eventTime": "2025-06-10T09:00:00Z",
				"userIdentity": {"accountId": "123456789012"},
				"responseElements": {"instancesSet": {"items": [{"imageId": "ami-1"}]}}
			}]
		}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		_, err := ParseLogFile(strings.NewReader("not json"))
		require.Error(t, err)
	})

	t.Run("empty log yields no events", func(t *testing.T) {
		events, err := ParseLogFile(strings.NewReader(`{"Records": []}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestEventID(t *testing.T) {
	base := RawEvent{
		InstanceID: "i-1",
		State:      domain.PowerOn,
		OccurredAt: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}

	t.Run("same content, same id", func(t *testing.T) {
		assert.Equal(t, eventID(base), eventID(base))
	})

	t.Run("any field change produces a new id", func(t *testing.T) {
		other := base
		other.InstanceID = "i-2"
		assert.NotEqual(t, eventID(base), eventID(other))

		other = base
		other.State = domain.PowerOff
		assert.NotEqual(t, eventID(base), eventID(other))

		other = base
		other.OccurredAt = base.OccurredAt.Add(time.Second)
		assert.NotEqual(t, eventID(base), eventID(other))
	})
}
