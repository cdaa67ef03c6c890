/*

Package sender provides clients that ship timestamped, tagged data points to an Apptuit
ingestion endpoint. The HTTP Client posts batches to the put API and reports partial
failures as a *SendError carrying success and failure counts. A LineProtocolClient
writes the same data points as Influx line protocol to a TCP endpoint.

Metric keys produced by EncodeMetric embed a tag set in the metric name so that
registries which only know about names can still carry tags. DecodeMetric reverses it.

The reporter sub-package periodically drains a registry into data points and sends them
with either client.

Example

The following sends a single point using the token from the environment:

	token, _ := sender.TokenFromEnv(os.LookupEnv)
	client, err := sender.NewClient(sender.Config{Token: token})

	point, err := sender.NewDataPoint("node.cpu", map[string]string{"host": "h1"}, time.Now().Unix(), 3.14)
	err = client.Send(context.Background(), []sender.DataPoint{point})

*/
package sender
