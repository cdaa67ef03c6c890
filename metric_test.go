package sender

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestNewDataPoint(t *testing.T) {
	point, err := NewDataPoint("metric", map[string]string{"b": "2", "a": "1"}, 123, 4.5)
	require.NoError(t, err)

	assert.Equal(t, "metric", point.Name())
	assert.Equal(t, time.Unix(123, 0), point.Time())
	tags := point.TagList()
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Key)
	assert.Equal(t, "b", tags[1].Key)
	fields := point.FieldList()
	require.Len(t, fields, 1)
	assert.Equal(t, ValueField, fields[0].Key)
	assert.Equal(t, 4.5, fields[0].Value)
	assert.Equal(t, "metric{a:1, b:2, timestamp: 123, value: 4.500000}", point.String())
}

func TestNewDataPoint_Invalid(t *testing.T) {
	_, err := NewDataPoint("", map[string]string{"a": "1"}, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidMetricName)

	_, err = NewDataPoint("metric", map[string]string{"": "1"}, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidTags)

	_, err = NewDataPoint("metric", nil, 1, 1)
	assert.NoError(t, err)
}
