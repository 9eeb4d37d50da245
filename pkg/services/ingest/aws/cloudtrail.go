package aws

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/domain"
)

// RawEvent is a power-state transition parsed out of a CloudTrail log,
// before the instance shape has been resolved.
type RawEvent struct {
	UserID       string
	InstanceID   string
	ImageID      string
	InstanceType string
	State        domain.PowerState
	OccurredAt   time.Time
}

// powerEventNames maps the EC2 API calls recorded by CloudTrail to the
// power-state transition they imply. Everything else in a log file is noise
// for metering purposes.
var powerEventNames = map[string]domain.PowerState{
	"RunInstances":       domain.PowerOn,
	"StartInstances":     domain.PowerOn,
	"StopInstances":      domain.PowerOff,
	"TerminateInstances": domain.PowerOff,
}

type trailLog struct {
	Records []trailRecord `json:"Records"`
}

type trailRecord struct {
	EventName    string    `json:"eventName"`
	EventSource  string    `json:"eventSource"`
	EventTime    time.Time `json:"eventTime"`
	UserIdentity struct {
		AccountID string `json:"accountId"`
	} `json:"userIdentity"`
	ResponseElements *struct {
		InstancesSet struct {
			Items []trailInstance `json:"items"`
		} `json:"instancesSet"`
	} `json:"responseElements"`
}

type trailInstance struct {
	InstanceID   string `json:"instanceId"`
	ImageID      string `json:"imageId"`
	InstanceType string `json:"instanceType"`
}

// ParseLogFile extracts power-state events from one CloudTrail log file.
// Records for API calls that do not change power state, and records without
// response elements (failed or dry-run calls), are skipped.
func ParseLogFile(r io.Reader) ([]RawEvent, error) {
	var parsed trailLog
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode cloudtrail log: %w", err)
	}

	events := make([]RawEvent, 0)
	for _, record := range parsed.Records {
		state, ok := powerEventNames[record.EventName]
		if !ok || record.EventSource != "ec2.amazonaws.com" {
			continue
		}
		if record.ResponseElements == nil {
			continue
		}
		for _, instance := range record.ResponseElements.InstancesSet.Items {
			if instance.InstanceID == "" {
				continue
			}
			events = append(events, RawEvent{
				UserID:       record.UserIdentity.AccountID,
				InstanceID:   instance.InstanceID,
				ImageID:      instance.ImageID,
				InstanceType: instance.InstanceType,
				State:        state,
				OccurredAt:   record.EventTime.UTC(),
			})
		}
	}
	return events, nil
}
