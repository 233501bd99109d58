// Package normalizer converts heterogeneous infrastructure event envelopes
// into the canonical incident context consumed by the workflow engine.
package normalizer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Envelope is the raw event wrapper accepted by the ingest entry point.
// Detail may be a JSON object or, for regional forwards, a JSON-encoded
// string holding the nested payload.
type Envelope struct {
	DetailType      string                 `json:"detail-type"`
	Detail          json.RawMessage        `json:"detail"`
	Region          string                 `json:"region,omitempty"`
	RegionalContext *types.RegionalContext `json:"regional_context,omitempty"`
	Resources       []string               `json:"resources,omitempty"`
}

// Recognized detail-type values.
const (
	DetailTypeInstanceStateChange = "EC2 Instance State-change Notification"
	DetailTypeAPICall             = "AWS API Call via CloudTrail"
	DetailTypeRegionalForward     = "Regional Event"
)

// Resource types in the closed classification table. Anything else maps to
// "unknown", which is not an error.
const (
	ResourceCompute        = "ec2"
	ResourceFunction       = "lambda"
	ResourceTableStore     = "dynamodb"
	ResourceObjectStore    = "s3"
	ResourceRelationalDB   = "rds"
	ResourceParameterStore = "ssm"
	ResourceUnknown        = "unknown"
)

// apiDetail is the subset of an API-call audit record the normalizer reads.
type apiDetail struct {
	EventName         string          `json:"eventName"`
	EventSource       string          `json:"eventSource"`
	EventTime         string          `json:"eventTime"`
	RequestParameters json.RawMessage `json:"requestParameters"`
	UserIdentity      struct {
		ARN string `json:"arn"`
	} `json:"userIdentity"`
}

// instanceDetail is the shape of a real-time instance state-change event.
type instanceDetail struct {
	InstanceID string `json:"instance-id"`
	State      string `json:"state"`
}

// Normalizer classifies raw envelopes and extracts resource identity.
type Normalizer struct {
	defaultRegion string
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a normalizer. defaultRegion is used when the envelope carries
// no region of its own.
func New(defaultRegion string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{defaultRegion: defaultRegion, logger: logger, now: time.Now}
}

// Normalize converts an envelope into a canonical incident context. A fresh
// correlation id is minted per call. Unknown envelope kinds return
// types.ErrIgnoredEvent; callers must not create an incident for those.
func (n *Normalizer) Normalize(env *Envelope) (*types.IncidentContext, error) {
	correlationID := types.NewCorrelationID()

	region := env.Region
	if region == "" {
		region = n.defaultRegion
	}

	ctx := &types.IncidentContext{
		CorrelationID:   correlationID,
		Region:          region,
		RegionalContext: env.RegionalContext,
	}

	switch env.DetailType {
	case DetailTypeInstanceStateChange:
		var detail instanceDetail
		if err := json.Unmarshal(env.Detail, &detail); err != nil {
			return nil, types.Permanent(fmt.Errorf("malformed instance state-change detail: %w", err))
		}
		ctx.EventName = "EC2StateChange"
		ctx.ResourceType = ResourceCompute
		ctx.ResourceID = orUnknown(detail.InstanceID)
		ctx.Actor = "System"
		ctx.EventDetails = env.Detail
		ctx.EventTime = n.now().UTC()
		n.logger.Info("normalized instance state-change event",
			"correlation_id", correlationID,
			"resource_id", ctx.ResourceID,
			"state", detail.State)

	case DetailTypeAPICall:
		if err := n.normalizeAPICall(ctx, env.Detail); err != nil {
			return nil, err
		}

	case DetailTypeRegionalForward:
		// The forwarded detail is a nested JSON string; promote the inner
		// payload and re-normalize it as an API call.
		inner, err := unwrapNested(env.Detail)
		if err != nil {
			return nil, types.Permanent(fmt.Errorf("malformed regional forward: %w", err))
		}
		if err := n.normalizeAPICall(ctx, inner); err != nil {
			return nil, err
		}
		ctx.Actor = "RegionalForwarder"

	default:
		n.logger.Warn("ignoring unknown event type",
			"correlation_id", correlationID,
			"detail_type", env.DetailType)
		return nil, types.ErrIgnoredEvent
	}

	return ctx, nil
}

func (n *Normalizer) normalizeAPICall(ctx *types.IncidentContext, raw json.RawMessage) error {
	var detail apiDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return types.Permanent(fmt.Errorf("malformed API call detail: %w", err))
	}

	ctx.EventName = detail.EventName
	if ctx.EventName == "" {
		ctx.EventName = "Unknown"
	}
	ctx.ResourceType = DetectResourceType(detail.EventName, detail.EventSource)
	ctx.ResourceID = ExtractResourceID(ctx.ResourceType, detail.RequestParameters)
	if ctx.Actor == "" {
		ctx.Actor = orUnknownLabel(detail.UserIdentity.ARN, "Unknown")
	}
	ctx.EventDetails = raw
	ctx.EventTime = parseEventTime(detail.EventTime, n.now)

	n.logger.Info("normalized API call event",
		"correlation_id", ctx.CorrelationID,
		"event_name", ctx.EventName,
		"resource_type", ctx.ResourceType,
		"resource_id", ctx.ResourceID)
	return nil
}

// DetectResourceType classifies an API call by substring match on its event
// source, falling back to well-known event names.
func DetectResourceType(eventName, eventSource string) string {
	switch {
	case strings.Contains(eventSource, "ec2"),
		eventName == "TerminateInstances", eventName == "StopInstances":
		return ResourceCompute
	case strings.Contains(eventSource, "lambda"),
		eventName == "DeleteFunction", eventName == "UpdateFunctionConfiguration":
		return ResourceFunction
	case strings.Contains(eventSource, "dynamodb"), eventName == "DeleteTable":
		return ResourceTableStore
	case strings.Contains(eventSource, "s3"),
		eventName == "DeleteBucket", eventName == "PutBucketPolicy":
		return ResourceObjectStore
	case strings.Contains(eventSource, "rds"), eventName == "DeleteDBInstance":
		return ResourceRelationalDB
	case strings.Contains(eventSource, "ssm"),
		eventName == "PutParameter", eventName == "DeleteParameter":
		return ResourceParameterStore
	}
	return ResourceUnknown
}

// ExtractResourceID pulls the resource identifier out of the request
// parameters using the known path for each resource type. Unknown shapes
// map to "unknown" rather than erroring.
func ExtractResourceID(resourceType string, params json.RawMessage) string {
	if len(params) == 0 {
		return ResourceUnknown
	}

	switch resourceType {
	case ResourceCompute:
		var p struct {
			InstancesSet struct {
				Items []struct {
					InstanceID string `json:"instanceId"`
				} `json:"items"`
			} `json:"instancesSet"`
		}
		if err := json.Unmarshal(params, &p); err == nil && len(p.InstancesSet.Items) > 0 {
			return orUnknown(p.InstancesSet.Items[0].InstanceID)
		}
	case ResourceFunction:
		return orUnknown(stringField(params, "functionName"))
	case ResourceTableStore:
		return orUnknown(stringField(params, "tableName"))
	case ResourceObjectStore:
		return orUnknown(stringField(params, "bucketName"))
	case ResourceRelationalDB:
		return orUnknown(stringField(params, "dBInstanceIdentifier"))
	case ResourceParameterStore:
		return orUnknown(stringField(params, "name"))
	}
	return ResourceUnknown
}

// unwrapNested decodes one level of JSON-string nesting. If the raw value is
// already an object it is returned unchanged.
func unwrapNested(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return raw, nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(inner)) {
		return nil, fmt.Errorf("nested detail is not valid JSON")
	}
	return json.RawMessage(inner), nil
}

func stringField(raw json.RawMessage, key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(m[key], &s); err != nil {
		return ""
	}
	return s
}

func parseEventTime(s string, now func() time.Time) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return now().UTC()
}

func orUnknown(s string) string {
	return orUnknownLabel(s, ResourceUnknown)
}

func orUnknownLabel(s, label string) string {
	if s == "" {
		return label
	}
	return s
}
