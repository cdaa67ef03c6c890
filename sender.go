package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	protocol "github.com/influxdata/line-protocol"
	"net"
	"time"
)

const DefaultDialTimeout = 5 * time.Second

type ErrorListener func(err error)

type LineProtocolConfig struct {
	// Endpoint is the host:port of a TCP line protocol listener, such as telegraf's socket_listener.
	Endpoint    string
	DialTimeout time.Duration
	GlobalTags  map[string]string
	ErrorListener
}

// LineProtocolClient writes data points as Influx line protocol over TCP,
// opening one connection per batch.
type LineProtocolClient struct {
	config LineProtocolConfig
	dialer net.Dialer
}

var _ Ingester = (*LineProtocolClient)(nil)

func NewLineProtocolClient(config LineProtocolConfig) (*LineProtocolClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidEndpoint)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	return &LineProtocolClient{
		config: config,
		dialer: net.Dialer{Timeout: config.DialTimeout},
	}, nil
}

// Send encodes every point onto a fresh connection. Points that cannot be
// encoded or written are counted as failed in the returned *SendError.
func (c *LineProtocolClient) Send(ctx context.Context, points []DataPoint) error {
	if len(points) == 0 {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	result := &SendError{}
	encoder := protocol.NewEncoder(conn)
	for _, point := range points {
		point.Tags = MergeTags(c.config.GlobalTags, point.Tags)
		_, err := encoder.Encode(point)
		if err != nil {
			c.reportError(fmt.Errorf("failed to encode %s: %w", point.Metric, err))
			result.Failed++
			result.Errors = append(result.Errors, PointError{
				Datapoint: describe(point),
				Message:   err.Error(),
			})
			continue
		}
		result.Success++
	}

	err = conn.Close()
	if err != nil {
		c.reportError(fmt.Errorf("failed to close: %w", err))
	}

	if result.Failed > 0 {
		result.Msg = "line protocol encoding failed"
		return result
	}
	return nil
}

func (c *LineProtocolClient) reportError(err error) {
	if c.config.ErrorListener != nil {
		c.config.ErrorListener(err)
	}
}

// describe renders a point without its value, which may not be representable in JSON.
func describe(point DataPoint) json.RawMessage {
	raw, err := json.Marshal(struct {
		Metric    string            `json:"metric"`
		Tags      map[string]string `json:"tags"`
		Timestamp int64             `json:"timestamp"`
	}{point.Metric, point.Tags, point.Timestamp})
	if err != nil {
		return nil
	}
	return raw
}

// IsPartialFailure reports whether err describes a batch where some points were delivered.
func IsPartialFailure(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Success > 0 && sendErr.Failed > 0
}
