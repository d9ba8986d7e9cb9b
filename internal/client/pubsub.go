package client

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
)

// PubSubClient wraps the Google Cloud Pub/Sub client. Completed exam reports
// travel through a topic to the archiver subscription.
type PubSubClient struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
}

// NewPubSubClient creates a new Pub/Sub client.
func NewPubSubClient(ctx context.Context, projectID, topicID string) (*PubSubClient, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return &PubSubClient{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// WithSubscription sets the subscription to use for receiving messages.
func (c *PubSubClient) WithSubscription(subscriptionID string) *PubSubClient {
	c.subscription = c.client.Subscription(subscriptionID)
	return c
}

// Close closes the client.
func (c *PubSubClient) Close() {
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// Publish publishes a message to the topic and waits for the server ack.
func (c *PubSubClient) Publish(ctx context.Context, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	result := c.topic.Publish(ctx, &pubsub.Message{
		Data: jsonData,
	})

	_, err = result.Get(ctx)
	return err
}

// SubscribeJSON starts receiving messages, handing the raw JSON payload to
// the handler. A handler error nacks the message for redelivery.
func (c *PubSubClient) SubscribeJSON(ctx context.Context, handler func(ctx context.Context, data json.RawMessage) error) error {
	if c.subscription == nil {
		return nil
	}

	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, msg.Data); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
