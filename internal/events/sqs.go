package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of *sqs.Client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSPublisher struct {
	SQS      SQSAPI
	QueueURL string
}

func (p *SQSPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: str("String"), StringValue: str(string(e.Type))},
		},
	}
	// FIFO ordering per campaign and lead
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		in.MessageGroupId = str(e.PartitionKey())
		in.MessageDeduplicationId = str(e.ID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func str(s string) *string { return &s }
