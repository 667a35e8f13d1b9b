package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"readywatch/internal/models"
)

// Reading is one normalized counter value for one host, as delivered by
// the metrics collaborator per poll.
type Reading struct {
	HostID      string
	DisplayName string
	// Value is the converted CPU Ready percentage; Raw keeps the counter
	// as the source reported it.
	Value float64
	Raw   float64
	Unit  models.Unit
}

// Source is the external metrics collaborator. The wire protocol behind it
// is not part of the core; the collector only consumes normalized readings.
type Source interface {
	// Ping verifies the source is reachable before polling starts.
	Ping(ctx context.Context) error
	// Fetch returns one reading per host present in this poll.
	Fetch(ctx context.Context) ([]Reading, error)
}

type wirePayload struct {
	IntervalSeconds int        `json:"interval_seconds"`
	Hosts           []wireHost `json:"hosts"`
}

type wireHost struct {
	Host  string  `json:"host"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// HTTPSource polls a JSON endpoint that fronts the virtualization API and
// applies the conversion policy to every raw value.
type HTTPSource struct {
	URL     string
	Convert ConversionPolicy
	HTTP    *http.Client
}

func NewHTTPSource(url string, convert ConversionPolicy) *HTTPSource {
	return &HTTPSource{
		URL:     url,
		Convert: convert,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return err
	}
	res, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("metrics source unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return fmt.Errorf("metrics source status %d", res.StatusCode)
	}
	return nil
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, fmt.Errorf("metrics source status %d: %s", res.StatusCode, string(body))
	}
	var payload wirePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode metrics payload: %w", err)
	}

	convert := s.Convert
	if payload.IntervalSeconds > 0 {
		convert.IntervalSeconds = payload.IntervalSeconds
	}
	out := make([]Reading, 0, len(payload.Hosts))
	for _, h := range payload.Hosts {
		id := CanonicalHostID(h.Host)
		if id == "" {
			continue
		}
		unit := models.Unit(h.Unit)
		if unit == "" || unit == models.UnitUnknown {
			unit = DetectUnit([]float64{h.Value})
		}
		out = append(out, Reading{
			HostID:      id,
			DisplayName: h.Host,
			Value:       convert.ToPercent(h.Value, unit),
			Raw:         h.Value,
			Unit:        unit,
		})
	}
	return out, nil
}
