package normalizer

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

func newTestNormalizer() *Normalizer {
	n := New("us-east-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.now = func() time.Time {
		return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	}
	return n
}

func TestNormalizeInstanceStateChange(t *testing.T) {
	n := newTestNormalizer()
	env := &Envelope{
		DetailType: DetailTypeInstanceStateChange,
		Detail:     json.RawMessage(`{"instance-id":"i-0abc123","state":"stopped"}`),
	}

	ctx, err := n.Normalize(env)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ctx.EventName != "EC2StateChange" {
		t.Errorf("event_name = %q", ctx.EventName)
	}
	if ctx.ResourceType != ResourceCompute {
		t.Errorf("resource_type = %q", ctx.ResourceType)
	}
	if ctx.ResourceID != "i-0abc123" {
		t.Errorf("resource_id = %q", ctx.ResourceID)
	}
	if ctx.Actor != "System" {
		t.Errorf("actor = %q", ctx.Actor)
	}
	if ctx.Region != "us-east-1" {
		t.Errorf("region = %q, want default", ctx.Region)
	}
	if !strings.HasPrefix(ctx.CorrelationID, "incident-") {
		t.Errorf("correlation_id = %q", ctx.CorrelationID)
	}
}

func TestNormalizeAPICall(t *testing.T) {
	n := newTestNormalizer()
	env := &Envelope{
		DetailType: DetailTypeAPICall,
		Region:     "eu-west-1",
		Detail: json.RawMessage(`{
			"eventName": "TerminateInstances",
			"eventSource": "ec2.amazonaws.com",
			"eventTime": "2026-08-26T11:55:00Z",
			"requestParameters": {"instancesSet":{"items":[{"instanceId":"i-0deadbeef"}]}},
			"userIdentity": {"arn": "arn:aws:iam::123456789012:user/alice"}
		}`),
	}

	ctx, err := n.Normalize(env)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ctx.EventName != "TerminateInstances" {
		t.Errorf("event_name = %q", ctx.EventName)
	}
	if ctx.ResourceType != ResourceCompute {
		t.Errorf("resource_type = %q", ctx.ResourceType)
	}
	if ctx.ResourceID != "i-0deadbeef" {
		t.Errorf("resource_id = %q", ctx.ResourceID)
	}
	if ctx.Actor != "arn:aws:iam::123456789012:user/alice" {
		t.Errorf("actor = %q", ctx.Actor)
	}
	if ctx.Region != "eu-west-1" {
		t.Errorf("region = %q", ctx.Region)
	}
	want := time.Date(2026, 8, 26, 11, 55, 0, 0, time.UTC)
	if !ctx.EventTime.Equal(want) {
		t.Errorf("event_time = %v, want %v", ctx.EventTime, want)
	}
}

func TestNormalizeRegionalForward(t *testing.T) {
	n := newTestNormalizer()
	inner := `{"eventName":"DeleteTable","eventSource":"dynamodb.amazonaws.com","requestParameters":{"tableName":"orders"}}`
	quoted, _ := json.Marshal(inner)

	env := &Envelope{
		DetailType: DetailTypeRegionalForward,
		Region:     "ap-southeast-2",
		Detail:     json.RawMessage(quoted),
		RegionalContext: &types.RegionalContext{
			ForwardedFrom: "ap-southeast-2",
		},
	}

	ctx, err := n.Normalize(env)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ctx.EventName != "DeleteTable" {
		t.Errorf("event_name = %q", ctx.EventName)
	}
	if ctx.ResourceType != ResourceTableStore {
		t.Errorf("resource_type = %q", ctx.ResourceType)
	}
	if ctx.ResourceID != "orders" {
		t.Errorf("resource_id = %q", ctx.ResourceID)
	}
	if ctx.Actor != "RegionalForwarder" {
		t.Errorf("actor = %q", ctx.Actor)
	}
	if ctx.RegionalContext == nil || ctx.RegionalContext.ForwardedFrom != "ap-southeast-2" {
		t.Error("regional context not carried through")
	}
}

func TestNormalizeRegionalForwardObjectDetail(t *testing.T) {
	// Some forwarders ship the detail as a plain object instead of a
	// JSON-encoded string; both must work.
	n := newTestNormalizer()
	env := &Envelope{
		DetailType: DetailTypeRegionalForward,
		Detail:     json.RawMessage(`{"eventName":"DeleteFunction","eventSource":"lambda.amazonaws.com","requestParameters":{"functionName":"checkout"}}`),
	}

	ctx, err := n.Normalize(env)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if ctx.ResourceType != ResourceFunction || ctx.ResourceID != "checkout" {
		t.Errorf("got %s/%s", ctx.ResourceType, ctx.ResourceID)
	}
}

func TestNormalizeUnknownDetailType(t *testing.T) {
	n := newTestNormalizer()
	env := &Envelope{
		DetailType: "Scheduled Event",
		Detail:     json.RawMessage(`{}`),
	}
	_, err := n.Normalize(env)
	if !errors.Is(err, types.ErrIgnoredEvent) {
		t.Errorf("expected ErrIgnoredEvent, got %v", err)
	}
}

func TestNormalizeMalformedDetail(t *testing.T) {
	n := newTestNormalizer()
	env := &Envelope{
		DetailType: DetailTypeAPICall,
		Detail:     json.RawMessage(`not json`),
	}
	_, err := n.Normalize(env)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, types.ErrIgnoredEvent) {
		t.Error("malformed detail should be a hard error, not ignored")
	}
	if types.IsRetryable(err) {
		t.Error("malformed detail should be permanent")
	}
}

func TestDetectResourceType(t *testing.T) {
	tests := []struct {
		eventName   string
		eventSource string
		want        string
	}{
		{"TerminateInstances", "ec2.amazonaws.com", ResourceCompute},
		{"TerminateInstances", "", ResourceCompute},
		{"StopInstances", "", ResourceCompute},
		{"DeleteFunction", "lambda.amazonaws.com", ResourceFunction},
		{"UpdateFunctionConfiguration", "", ResourceFunction},
		{"DeleteTable", "dynamodb.amazonaws.com", ResourceTableStore},
		{"DeleteBucket", "s3.amazonaws.com", ResourceObjectStore},
		{"PutBucketPolicy", "", ResourceObjectStore},
		{"DeleteDBInstance", "rds.amazonaws.com", ResourceRelationalDB},
		{"PutParameter", "ssm.amazonaws.com", ResourceParameterStore},
		{"DeleteParameter", "", ResourceParameterStore},
		{"AssumeRole", "sts.amazonaws.com", ResourceUnknown},
		{"", "", ResourceUnknown},
	}
	for _, tt := range tests {
		if got := DetectResourceType(tt.eventName, tt.eventSource); got != tt.want {
			t.Errorf("DetectResourceType(%q, %q) = %q, want %q", tt.eventName, tt.eventSource, got, tt.want)
		}
	}
}

func TestExtractResourceID(t *testing.T) {
	tests := []struct {
		name         string
		resourceType string
		params       string
		want         string
	}{
		{"ec2 instance set", ResourceCompute, `{"instancesSet":{"items":[{"instanceId":"i-111"}]}}`, "i-111"},
		{"ec2 empty set", ResourceCompute, `{"instancesSet":{"items":[]}}`, ResourceUnknown},
		{"lambda", ResourceFunction, `{"functionName":"checkout"}`, "checkout"},
		{"dynamodb", ResourceTableStore, `{"tableName":"orders"}`, "orders"},
		{"s3", ResourceObjectStore, `{"bucketName":"assets"}`, "assets"},
		{"rds", ResourceRelationalDB, `{"dBInstanceIdentifier":"prod-db"}`, "prod-db"},
		{"ssm", ResourceParameterStore, `{"name":"/prod/db/password"}`, "/prod/db/password"},
		{"unknown type", ResourceUnknown, `{"whatever":"x"}`, ResourceUnknown},
		{"empty params", ResourceFunction, ``, ResourceUnknown},
		{"missing field", ResourceFunction, `{"other":"x"}`, ResourceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractResourceID(tt.resourceType, json.RawMessage(tt.params)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
