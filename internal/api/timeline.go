package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/nekzampe/surveillance-indexer/internal/db"
	"github.com/nekzampe/surveillance-indexer/internal/events"
	"github.com/nekzampe/surveillance-indexer/internal/httputil"
)

// showTimeline renders an HTML scatter chart of a video's events: start
// time against duration, one series per label.
func (s *Server) showTimeline(w http.ResponseWriter, r *http.Request) {
	v, ok := s.videoFromPath(w, r)
	if !ok {
		return
	}
	evs, err := s.events.ListEvents(r.Context(), db.EventFilter{VideoID: v.ID})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list events: %v", err))
		return
	}

	page, err := renderTimeline(v, evs)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteHTML(w, page)
}

func renderTimeline(v db.Video, evs []events.TrackedEvent) ([]byte, error) {
	byLabel := make(map[string][]opts.ScatterData)
	for _, ev := range evs {
		start := time.Duration(ev.StartTick).Seconds()
		byLabel[ev.Label] = append(byLabel[ev.Label], opts.ScatterData{
			Name:  fmt.Sprintf("identity %d (%.2f)", ev.IdentityID, ev.MaxConfidence),
			Value: []interface{}{start, ev.Duration().Seconds()},
		})
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Event timeline", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: v.FileName, Subtitle: fmt.Sprintf("video=%d events=%d", v.ID, len(evs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "start (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "duration (s)", NameLocation: "middle", NameGap: 30}),
	)
	for _, l := range labels {
		scatter.AddSeries(l, byLabel[l], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
