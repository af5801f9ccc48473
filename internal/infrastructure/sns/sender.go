package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-verify-ledger/internal/domain"
)

type publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AuditPublisher mirrors audit entries to an SNS topic as JSON messages.
type AuditPublisher struct {
	client   publisher
	topicARN string
}

func NewClient(awsCfg aws.Config, endpoint string) *sns.Client {
	var clientOpts []func(*sns.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return sns.NewFromConfig(awsCfg, clientOpts...)
}

func NewAuditPublisher(client publisher, topicARN string) *AuditPublisher {
	return &AuditPublisher{client: client, topicARN: topicARN}
}

func (p *AuditPublisher) Emit(ctx context.Context, e domain.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("verification attempt"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"actor_id": {DataType: aws.String("String"), StringValue: aws.String(nonEmpty(e.ActorID))},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// SNS rejects empty string attribute values.
func nonEmpty(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
