package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"
)

// ReportRequest is a bounded metrics report for one GA4 property.
type ReportRequest struct {
	PropertyID string
	StartDate  string
	EndDate    string
	Metrics    []string
	Dimensions []string
	Limit      int
}

// ReportRow holds dimension values then metric values, each in request order.
type ReportRow struct {
	DimensionValues []string
	MetricValues    []string
}

// MetricsService runs metrics reports. GA4Service is the production one.
type MetricsService interface {
	RunReport(ctx context.Context, req ReportRequest) ([]ReportRow, error)
}

// GA4Service runs reports through the GA4 Data API (v1beta). The API client
// is created on first use so the process can start, and serve SEO queries,
// before credentials are in place.
type GA4Service struct {
	credentialsFile string
	logger          *slog.Logger

	mu  sync.Mutex
	svc *analyticsdata.Service
}

func NewGA4Service(credentialsFile string, logger *slog.Logger) *GA4Service {
	return &GA4Service{credentialsFile: credentialsFile, logger: logger}
}

func (g *GA4Service) service(ctx context.Context) (*analyticsdata.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.svc != nil {
		return g.svc, nil
	}
	var opts []option.ClientOption
	if g.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.credentialsFile))
	}
	svc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GA4 data client: %w", err)
	}
	g.svc = svc
	return svc, nil
}

func (g *GA4Service) RunReport(ctx context.Context, req ReportRequest) ([]ReportRow, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	body := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{StartDate: req.StartDate, EndDate: req.EndDate}},
		Limit:      int64(req.Limit),
	}
	for _, m := range req.Metrics {
		body.Metrics = append(body.Metrics, &analyticsdata.Metric{Name: m})
	}
	for _, d := range req.Dimensions {
		body.Dimensions = append(body.Dimensions, &analyticsdata.Dimension{Name: d})
	}

	resp, err := svc.Properties.RunReport("properties/"+req.PropertyID, body).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("run GA4 report for property %s: %w", req.PropertyID, err)
	}
	g.logger.Debug("GA4 report", "property", req.PropertyID, "rows", len(resp.Rows))

	rows := make([]ReportRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		row := ReportRow{
			DimensionValues: make([]string, len(r.DimensionValues)),
			MetricValues:    make([]string, len(r.MetricValues)),
		}
		for i, v := range r.DimensionValues {
			row.DimensionValues[i] = v.Value
		}
		for i, v := range r.MetricValues {
			row.MetricValues[i] = v.Value
		}
		rows = append(rows, row)
	}
	return rows, nil
}
