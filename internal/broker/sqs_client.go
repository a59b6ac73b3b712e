package broker

import (
	"context"
	"fmt"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI abstracts the AWS SQS client for testability.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqsSendInput) error
	ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error)
	DeleteMessage(ctx context.Context, input *sqsDeleteInput) error
	ChangeMessageVisibility(ctx context.Context, input *sqsChangeVisibilityInput) error
	QueueARN(ctx context.Context, queueURL string) (string, error)
}

type sqsSendInput struct {
	QueueURL    string
	MessageBody string
	Attributes  map[string]string
}

type sqsReceiveInput struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
}

type sqsReceiveOutput struct {
	Messages []sqsReceivedMessage
}

type sqsReceivedMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	ReceiveCount  int
}

type sqsDeleteInput struct {
	QueueURL      string
	ReceiptHandle string
}

type sqsChangeVisibilityInput struct {
	QueueURL          string
	ReceiptHandle     string
	VisibilityTimeout int32
}

// awsSQSClient wraps the AWS SDK client and implements sqsAPI.
type awsSQSClient struct {
	client *sqs.Client
}

func newAWSSQSClient(ctx context.Context, region string) (*awsSQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &awsSQSClient{client: sqs.NewFromConfig(cfg)}, nil
}

func (c *awsSQSClient) SendMessage(ctx context.Context, input *sqsSendInput) error {
	attrs := make(map[string]types.MessageAttributeValue, len(input.Attributes))
	for k, v := range input.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    strPtr("String"),
			StringValue: strPtr(v),
		}
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &input.QueueURL,
		MessageBody:       &input.MessageBody,
		MessageAttributes: attrs,
	})
	return err
}

func (c *awsSQSClient) ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &input.QueueURL,
		MaxNumberOfMessages: input.MaxNumberOfMessages,
		WaitTimeSeconds:     input.WaitTimeSeconds,
		VisibilityTimeout:   input.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		messages = append(messages, sqsReceivedMessage{
			MessageID:     derefString(m.MessageId),
			ReceiptHandle: derefString(m.ReceiptHandle),
			Body:          derefString(m.Body),
			ReceiveCount:  count,
		})
	}
	return &sqsReceiveOutput{Messages: messages}, nil
}

func (c *awsSQSClient) DeleteMessage(ctx context.Context, input *sqsDeleteInput) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &input.QueueURL,
		ReceiptHandle: &input.ReceiptHandle,
	})
	return err
}

func (c *awsSQSClient) ChangeMessageVisibility(ctx context.Context, input *sqsChangeVisibilityInput) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &input.QueueURL,
		ReceiptHandle:     &input.ReceiptHandle,
		VisibilityTimeout: input.VisibilityTimeout,
	})
	return err
}

// QueueARN fetches the queue's ARN. It is the cheapest call that proves the
// queue exists and the credentials can reach it.
func (c *awsSQSClient) QueueARN(ctx context.Context, queueURL string) (string, error) {
	out, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &queueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", err
	}
	return out.Attributes[string(types.QueueAttributeNameQueueArn)], nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
