package mqtt

import (
	"errors"
	"strings"
	"testing"
)

// testClient returns a Client that has never connected. Validation paths
// must reject operations before touching the network.
func testClient() *Client {
	return &Client{
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := testClient()

	if err := c.Publish("", []byte("{}"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish(TopicLightsStatus, []byte("{}"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3: err = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish(TopicLightsStatus, []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected publish: err = %v, want ErrNotConnected", err)
	}

	oversized := make([]byte, maxPayloadSize+1)
	if err := c.Publish(TopicLightsStatus, oversized, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload: err = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := testClient()
	handler := func(_ string, _ []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe(TopicCommand, 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 5: err = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe(TopicCommand, 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: err = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe(TopicCommand, 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected subscribe: err = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("failed subscribes must not be tracked, count = %d", c.SubscriptionCount())
	}
}

func TestTopicLayout(t *testing.T) {
	for _, topic := range []string{TopicSystemStatus, TopicLightsStatus, TopicCommand} {
		if !strings.HasPrefix(topic, "neewer/") {
			t.Errorf("topic %q missing neewer/ prefix", topic)
		}
	}
}

func TestBuildStatusPayload(t *testing.T) {
	online := buildStatusPayload("neewerctl", "online", "")
	if !strings.Contains(online, `"status":"online"`) || strings.Contains(online, "reason") {
		t.Errorf("unexpected online payload: %s", online)
	}

	offline := buildStatusPayload("neewerctl", "offline", "graceful_shutdown")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("unexpected offline payload: %s", offline)
	}
}
