package sns

import (
	"context"
	"encoding/json"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/claraverse/pairing-api/internal/config"
)

// EventPublisher fans pairing lifecycle events out to an SNS topic so other
// services (notifications, analytics) can react to pairings.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]string) error
}

type publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(cfg *config.Config) (EventPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &publisher{client: sns.NewFromConfig(awsCfg), topicARN: cfg.SNSTopicARN}, nil
}

type event struct {
	Type       string            `json:"type"`
	OccurredAt string            `json:"occurred_at"`
	Payload    map[string]string `json:"payload,omitempty"`
}

func (p *publisher) Publish(ctx context.Context, eventType string, payload map[string]string) error {
	body, err := json.Marshal(event{
		Type:       eventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	msg := string(body)
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &p.topicARN,
		Message:  &msg,
	})
	return err
}
