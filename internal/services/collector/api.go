package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/roomsense/internal/model"
	"github.com/LeonardoBeccarini/roomsense/internal/model/entities"
)

// Reading is one stored value as served by /telemetry/latest.
type Reading struct {
	Metric   string  `json:"metric"`
	DeviceID string  `json:"device_id"`
	Value    float64 `json:"value"`
	Time     string  `json:"time"` // RFC3339
	Status   string  `json:"status,omitempty"`
}

// Querier reads recent values back from storage.
type Querier interface {
	Latest(ctx context.Context, q LatestQuery) ([]Reading, error)
}

type LatestQuery struct {
	Metric   string // empty: every metric
	DeviceID string // empty: every device
	Minutes  int
	Limit    int
}

// InfluxQuerier runs Flux queries against the telemetry bucket.
type InfluxQuerier struct {
	api    api.QueryAPI
	bucket string
}

func NewInfluxQuerier(q api.QueryAPI, bucket string) *InfluxQuerier {
	return &InfluxQuerier{api: q, bucket: bucket}
}

func buildFlux(bucket string, q LatestQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dm)\n", q.Minutes)
	b.WriteString(`  |> filter(fn: (r) => r._field == "value")` + "\n")
	if q.Metric != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", q.Metric)
	}
	if q.DeviceID != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.device_id == %q)\n", q.DeviceID)
	}
	b.WriteString(`  |> keep(columns: ["_time","_value","_measurement","device_id"])` + "\n")
	b.WriteString(`  |> group()` + "\n")
	b.WriteString(`  |> sort(columns: ["_time"], desc: true)` + "\n")
	fmt.Fprintf(&b, "  |> limit(n:%d)\n", q.Limit)
	return b.String()
}

func (iq *InfluxQuerier) Latest(ctx context.Context, q LatestQuery) ([]Reading, error) {
	res, err := iq.api.Query(ctx, buildFlux(iq.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("influx: query: %w", err)
	}
	defer res.Close()

	out := make([]Reading, 0, q.Limit)
	for res.Next() {
		rec := res.Record()
		r := Reading{
			Metric: rec.Measurement(),
			Time:   rec.Time().UTC().Format(time.RFC3339),
		}
		switch v := rec.Value().(type) {
		case float64:
			r.Value = v
		case int64:
			r.Value = float64(v)
		}
		if v, ok := rec.ValueByKey("device_id").(string); ok {
			r.DeviceID = v
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx: iterate: %w", err)
	}
	return out, nil
}

// deviceIDPattern covers numeric node ids and the room names older nodes
// send; anything else could break out of the Flux string literal.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type latestParams struct {
	LatestQuery
	Source    string
	TimeoutMS int
}

func parseLatest(r *http.Request) (latestParams, error) {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	p := latestParams{
		LatestQuery: LatestQuery{
			Metric:   strings.TrimSpace(q.Get("metric")),
			DeviceID: strings.TrimSpace(q.Get("device")),
			Minutes:  get("minutes", 60, 1, 7*24*60),
			Limit:    get("limit", 20, 1, 500),
		},
		Source:    strings.ToLower(strings.TrimSpace(q.Get("source"))),
		TimeoutMS: get("timeout_ms", 2000, 200, 5000),
	}
	if p.Source == "" {
		p.Source = "auto"
	}
	if p.Metric != "" {
		if _, ok := entities.ParseMetric(p.Metric); !ok {
			return p, fmt.Errorf("unknown metric %q", p.Metric)
		}
	}
	if p.DeviceID != "" && !deviceIDPattern.MatchString(p.DeviceID) {
		return p, fmt.Errorf("invalid device %q", p.DeviceID)
	}
	switch p.Source {
	case "auto", "influx", "cache":
	default:
		return p, fmt.Errorf("unknown source %q", p.Source)
	}
	return p, nil
}

// NewLatestHandler serves GET /telemetry/latest
// ?metric=temp&device=6&minutes=60&limit=20&source=auto|influx|cache.
// auto prova Influx e ripiega sulla cache degli ultimi valori ricevuti.
// Each reading is classified against ranges when ranges is not nil.
func NewLatestHandler(q Querier, c *Collector, ranges Ranges) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := parseLatest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var list []Reading
		used := ""
		if q != nil && (p.Source == "influx" || p.Source == "auto") {
			ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
			list, err = q.Latest(ctx, p.LatestQuery)
			cancel()
			if err != nil {
				w.Header().Set("X-Error", "influx-query-error")
			}
			if err == nil && (len(list) > 0 || p.Source == "influx") {
				used = "influx"
			}
		}
		if used == "" && p.Source != "influx" {
			list = c.Latest(p.Metric, p.DeviceID)
			used = "cache"
		}
		if list == nil {
			list = []Reading{}
		}
		list = ranges.withStatus(list)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", used)
		_ = json.NewEncoder(w).Encode(list)
	})
}

// Latest returns the cached last value per metric and device, filtered by
// metric and device when not empty.
func (c *Collector) Latest(metric, deviceID string) []Reading {
	c.mu.Lock()
	out := make([]Reading, 0, len(c.latest))
	for _, r := range c.latest {
		if (metric == "" || r.Metric == metric) && (deviceID == "" || r.DeviceID == deviceID) {
			out = append(out, r)
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Metric < out[j].Metric
	})
	return out
}

func (c *Collector) remember(metric model.Metric, deviceID string, ts uint64, values []float64) {
	r := Reading{
		Metric:   string(metric),
		DeviceID: deviceID,
		Value:    values[len(values)-1],
		Time:     time.Unix(int64(ts), 0).UTC().Format(time.RFC3339),
	}
	c.mu.Lock()
	c.latest[string(metric)+"/"+deviceID] = r
	c.mu.Unlock()
}
