package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const EventDocumentUploaded = "document.uploaded"

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// UploadEvent is the JSON message body published for each stored document.
type UploadEvent struct {
	Type        string    `json:"type"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UserSub     string    `json:"userSub,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type Notifier struct {
	client   Publisher
	topicArn string
}

func NewNotifier(client Publisher, topicArn string) *Notifier {
	return &Notifier{client: client, topicArn: strings.TrimSpace(topicArn)}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.client != nil && n.topicArn != ""
}

// DocumentUploaded publishes ev and returns the SNS message ID.
func (n *Notifier) DocumentUploaded(ctx context.Context, ev UploadEvent) (string, error) {
	if !n.Enabled() {
		return "", fmt.Errorf("upload topic not configured")
	}
	ev.Type = EventDocumentUploaded

	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal upload event: %w", err)
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String("Document uploaded"),
		Message:  aws.String(string(b)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventDocumentUploaded),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
