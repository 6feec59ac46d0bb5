package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder receives settlement telemetry. Recording is fire-and-forget; a
// telemetry outage must never block a settlement.
type Recorder interface {
	OrderResolved(ctx context.Context, asset, status string, amount int64)
	SettlementRecorded(ctx context.Context, asset string, amount int64)
	PayoutExecuted(ctx context.Context, asset string, amount int64)
	Close()
}

// Nop discards all telemetry. Services fall back to it when InfluxDB is not
// configured.
type Nop struct{}

func (Nop) OrderResolved(ctx context.Context, asset, status string, amount int64)   {}
func (Nop) SettlementRecorded(ctx context.Context, asset string, amount int64)      {}
func (Nop) PayoutExecuted(ctx context.Context, asset string, amount int64)          {}
func (Nop) Close()                                                                  {}

// Influx writes telemetry points to InfluxDB through the non-blocking write
// API.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPI
}

// InfluxConfig configures the InfluxDB recorder.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewInflux creates an InfluxDB-backed recorder.
func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

func (i *Influx) OrderResolved(ctx context.Context, asset, status string, amount int64) {
	p := influxdb2.NewPoint("order_resolution",
		map[string]string{"asset": asset, "status": status},
		map[string]interface{}{"amount": amount},
		time.Now(),
	)
	i.write.WritePoint(p)
}

func (i *Influx) SettlementRecorded(ctx context.Context, asset string, amount int64) {
	p := influxdb2.NewPoint("settlement",
		map[string]string{"asset": asset},
		map[string]interface{}{"amount": amount},
		time.Now(),
	)
	i.write.WritePoint(p)
}

func (i *Influx) PayoutExecuted(ctx context.Context, asset string, amount int64) {
	p := influxdb2.NewPoint("distribution_payout",
		map[string]string{"asset": asset},
		map[string]interface{}{"amount": amount},
		time.Now(),
	)
	i.write.WritePoint(p)
}

func (i *Influx) Close() {
	i.write.Flush()
	i.client.Close()
}
