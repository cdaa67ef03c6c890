package sender

import (
	"bytes"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"
)

type MockEndpoint struct {
	listener net.Listener
	lock     sync.Mutex
	contents []string
	err      error
}

func NewMockEndpoint() (*MockEndpoint, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return nil, err
	}
	e := &MockEndpoint{listener: listener}
	go e.listen()
	return e, nil
}

func (e *MockEndpoint) Addr() string {
	return e.listener.Addr().String()
}

func (e *MockEndpoint) Close() {
	e.listener.Close()
}

func (e *MockEndpoint) listen() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}

		var buffer bytes.Buffer
		_, err = io.Copy(&buffer, conn)
		e.lock.Lock()
		if err == nil {
			e.contents = append(e.contents, buffer.String())
		}
		e.err = err
		e.lock.Unlock()
		conn.Close()
	}
}

func (e *MockEndpoint) HasContent() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.contents) > 0
}

func (e *MockEndpoint) Content() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.contents...)
}

func TestLineProtocolSend(t *testing.T) {
	endpoint, err := NewMockEndpoint()
	require.NoError(t, err)
	defer endpoint.Close()

	client, err := NewLineProtocolClient(LineProtocolConfig{Endpoint: endpoint.Addr()})
	require.NoError(t, err)

	point, err := NewDataPoint("metric_name", map[string]string{"tag1": "t1"}, 1, 1)
	require.NoError(t, err)
	err = client.Send(context.Background(), []DataPoint{point})
	require.NoError(t, err)

	assert.Eventually(t, endpoint.HasContent, time.Second, 5*time.Millisecond)

	assert.Equal(t, "metric_name,tag1=t1 value=1 1000000000\n", endpoint.Content()[0])
}

func TestLineProtocolSend_GlobalTagsAndOrder(t *testing.T) {
	endpoint, err := NewMockEndpoint()
	require.NoError(t, err)
	defer endpoint.Close()

	client, err := NewLineProtocolClient(LineProtocolConfig{
		Endpoint:   endpoint.Addr(),
		GlobalTags: map[string]string{"host": "h1", "tag1": "global"},
	})
	require.NoError(t, err)

	points := []DataPoint{
		{Metric: "metric_name", Tags: map[string]string{"tag1": "t1"}, Timestamp: 1, Value: 1},
		{Metric: "metric_name", Tags: map[string]string{"tag1": "t2"}, Timestamp: 2, Value: 2.5},
	}
	err = client.Send(context.Background(), points)
	require.NoError(t, err)

	assert.Eventually(t, endpoint.HasContent, time.Second, 5*time.Millisecond)

	assert.Equal(t,
		"metric_name,host=h1,tag1=t1 value=1 1000000000\nmetric_name,host=h1,tag1=t2 value=2.5 2000000000\n",
		endpoint.Content()[0])
}

func TestLineProtocolSend_PartialFailure(t *testing.T) {
	endpoint, err := NewMockEndpoint()
	require.NoError(t, err)
	defer endpoint.Close()

	var listened []error
	client, err := NewLineProtocolClient(LineProtocolConfig{
		Endpoint: endpoint.Addr(),
		ErrorListener: func(err error) {
			listened = append(listened, err)
		},
	})
	require.NoError(t, err)

	points := []DataPoint{
		{Metric: "good", Tags: map[string]string{"tag1": "t1"}, Timestamp: 1, Value: 1},
		{Metric: "bad", Tags: map[string]string{"tag1": "t1"}, Timestamp: 1, Value: math.NaN()},
	}
	err = client.Send(context.Background(), points)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 1, sendErr.Success)
	assert.Equal(t, 1, sendErr.Failed)
	require.Len(t, sendErr.Errors, 1)
	assert.Contains(t, string(sendErr.Errors[0].Datapoint), `"metric":"bad"`)
	assert.True(t, IsPartialFailure(err))
	assert.Len(t, listened, 1)

	assert.Eventually(t, endpoint.HasContent, time.Second, 5*time.Millisecond)
	assert.Contains(t, endpoint.Content()[0], "good,tag1=t1 value=1 1000000000\n")
}

func TestLineProtocolSend_Empty(t *testing.T) {
	client, err := NewLineProtocolClient(LineProtocolConfig{Endpoint: "127.0.0.1:1"})
	require.NoError(t, err)

	assert.NoError(t, client.Send(context.Background(), nil))
}

func TestLineProtocolSend_ConnectFailure(t *testing.T) {
	endpoint, err := NewMockEndpoint()
	require.NoError(t, err)
	addr := endpoint.Addr()
	endpoint.Close()

	client, err := NewLineProtocolClient(LineProtocolConfig{Endpoint: addr})
	require.NoError(t, err)

	err = client.Send(context.Background(), []DataPoint{{Metric: "m", Timestamp: 1, Value: 1}})
	require.Error(t, err)
	var sendErr *SendError
	assert.False(t, errors.As(err, &sendErr))
}

func TestNewLineProtocolClient_RequiresEndpoint(t *testing.T) {
	_, err := NewLineProtocolClient(LineProtocolConfig{})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
