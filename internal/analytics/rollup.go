// Package analytics rolls visits up into per-day metrics for each owner.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"tether-go/internal/models"
)

// dimension describes how one metric type is read off a visit
type dimension struct {
	kind     models.MetricType
	name     func(v *models.Visit) string
	parent   func(v *models.Visit) string
	metadata func(g *group) models.Metadata
}

type group struct {
	name   string
	parent string
	count  int
	// per metadata field, value -> occurrences
	values map[string]map[string]int
}

func (g *group) observe(field, value string) {
	if value == "" {
		return
	}
	if g.values == nil {
		g.values = make(map[string]map[string]int)
	}
	if g.values[field] == nil {
		g.values[field] = make(map[string]int)
	}
	g.values[field][value]++
}

// mostFrequent returns the most common value seen for field. Ties go to the
// lexically smallest value so reruns are stable.
func (g *group) mostFrequent(field string) string {
	best, bestN := "", 0
	for v, n := range g.values[field] {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

func (g *group) pick(fields ...string) models.Metadata {
	md := models.Metadata{}
	for _, f := range fields {
		if v := g.mostFrequent(f); v != "" {
			md[f] = v
		}
	}
	return md
}

var dimensions = []dimension{
	{
		kind: models.MetricCountry,
		name: func(v *models.Visit) string { return models.Deref(v.Country) },
	},
	{
		kind:   models.MetricCity,
		name:   func(v *models.Visit) string { return models.Deref(v.City) },
		parent: func(v *models.Visit) string { return models.Deref(v.Country) },
		metadata: func(g *group) models.Metadata {
			if g.parent == "" {
				return models.Metadata{}
			}
			return models.Metadata{"country": g.parent}
		},
	},
	{
		kind:     models.MetricBrowser,
		name:     func(v *models.Visit) string { return models.Deref(v.Browser) },
		metadata: func(g *group) models.Metadata { return g.pick("browser_version") },
	},
	{
		kind:     models.MetricOS,
		name:     func(v *models.Visit) string { return models.Deref(v.OperatingSystem) },
		metadata: func(g *group) models.Metadata { return g.pick("os_alias", "os_version") },
	},
	{
		kind:     models.MetricDevice,
		name:     func(v *models.Visit) string { return models.Deref(v.DeviceType) },
		metadata: func(g *group) models.Metadata { return g.pick("device_manufacturer", "device_model") },
	},
}

func observeMetadata(g *group, kind models.MetricType, v *models.Visit) {
	switch kind {
	case models.MetricBrowser:
		g.observe("browser_version", models.Deref(v.BrowserVersion))
	case models.MetricOS:
		g.observe("os_alias", models.Deref(v.OperatingSystemAlias))
		g.observe("os_version", models.Deref(v.OperatingSystemVersion))
	case models.MetricDevice:
		g.observe("device_manufacturer", models.Deref(v.DeviceManufacturer))
		g.observe("device_model", models.Deref(v.DeviceModel))
	}
}

// Rollup computes the metrics of one owner's day. Shares are relative to
// every visit of the day, so visits without a value for a dimension lower
// the shares of that dimension.
func Rollup(ownerID uuid.UUID, date time.Time, visits []*models.Visit) []*models.AggregatedMetric {
	total := len(visits)
	if total == 0 {
		return nil
	}
	day := truncateDay(date)

	var out []*models.AggregatedMetric
	for _, dim := range dimensions {
		groups := make(map[[2]string]*group)
		for _, v := range visits {
			name := dim.name(v)
			if name == "" {
				continue
			}
			parent := ""
			if dim.parent != nil {
				parent = dim.parent(v)
			}

			k := [2]string{name, parent}
			g, ok := groups[k]
			if !ok {
				g = &group{name: name, parent: parent}
				groups[k] = g
			}
			g.count++
			observeMetadata(g, dim.kind, v)
		}

		metrics := make([]*models.AggregatedMetric, 0, len(groups))
		for _, g := range groups {
			md := models.Metadata{}
			if dim.metadata != nil {
				md = dim.metadata(g)
			}
			metrics = append(metrics, &models.AggregatedMetric{
				OwnerID:         ownerID,
				Date:            day,
				Type:            dim.kind,
				Name:            g.name,
				Parent:          g.parent,
				TotalVisits:     g.count,
				SharePercentage: share(g.count, total),
				Metadata:        md,
			})
		}
		sort.Slice(metrics, func(i, j int) bool {
			a, b := metrics[i], metrics[j]
			if a.TotalVisits != b.TotalVisits {
				return a.TotalVisits > b.TotalVisits
			}
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.Parent < b.Parent
		})
		out = append(out, metrics...)
	}
	return out
}

func share(count, total int) float64 {
	return round2(float64(count) * 100 / float64(total))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// GrowthRate is the percentage change from previous to current, rounded to
// two decimals. Growth from zero is 100 when anything happened and 0 when
// nothing did.
func GrowthRate(current, previous int) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return round2(float64(current-previous) / float64(previous) * 100)
}

func truncateDay(t time.Time) time.Time {
	d := t.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
