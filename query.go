package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Output holds the series returned for one output of a query.
type Output struct {
	Series []*TimeSeries
}

// QueryResult is the combined result of a query. A query may produce several
// outputs, which can be looked up by id or by their position in the query.
type QueryResult struct {
	Start   int64
	End     int64
	outputs map[string]*Output
	ids     []string
}

func (r *QueryResult) Output(id string) *Output {
	return r.outputs[id]
}

func (r *QueryResult) OutputAt(i int) *Output {
	if i < 0 || i >= len(r.ids) {
		return nil
	}
	return r.outputs[r.ids[i]]
}

func (r *QueryResult) Len() int {
	return len(r.ids)
}

type queryResponse struct {
	Outputs []struct {
		ID     string `json:"id"`
		Result []struct {
			Metric string            `json:"metric"`
			Tags   map[string]string `json:"tags"`
			DPS    [][2]float64      `json:"dps"`
		} `json:"result"`
	} `json:"outputs"`
}

// Query runs query over [start, end] where both are seconds since the Unix epoch.
// An end of zero leaves the range open. A nil result means the query produced no outputs.
func (c *Client) Query(ctx context.Context, query string, start, end int64) (*QueryResult, error) {
	var result *QueryResult
	err := c.withRetry(ctx, func() error {
		var err error
		result, err = c.query(ctx, query, start, end)
		return err
	})
	return result, err
}

func (c *Client) queryURL(query string, start, end int64) string {
	params := "?start=" + strconv.FormatInt(start, 10)
	if end != 0 {
		params += "&end=" + strconv.FormatInt(end, 10)
	}
	return c.config.Endpoint + "/api/query" + params + "&q=" + url.QueryEscape(query)
}

func (c *Client) query(ctx context.Context, query string, start, end int64) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL(query, start, end), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &QueryError{StatusCode: resp.StatusCode, Body: drain(resp.Body)}
	}

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}
	return parseQueryResponse(&body, start, end), nil
}

func parseQueryResponse(body *queryResponse, start, end int64) *QueryResult {
	if len(body.Outputs) == 0 {
		return nil
	}
	result := &QueryResult{
		Start:   start,
		End:     end,
		outputs: map[string]*Output{},
	}
	for _, output := range body.Outputs {
		if len(output.Result) == 0 {
			continue
		}
		out := &Output{}
		for _, r := range output.Result {
			series := &TimeSeries{Metric: r.Metric, Tags: r.Tags}
			for _, dp := range r.DPS {
				ts := int64(dp[0])
				if ts < start || (end != 0 && ts > end) {
					continue
				}
				series.AddPoint(ts, dp[1])
			}
			out.Series = append(out.Series, series)
		}
		if _, exists := result.outputs[output.ID]; !exists {
			result.ids = append(result.ids, output.ID)
		}
		result.outputs[output.ID] = out
	}
	return result
}
