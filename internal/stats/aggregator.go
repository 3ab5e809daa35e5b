package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"factoryops/internal/access"
	"factoryops/internal/clock"
	"factoryops/internal/database"
	"factoryops/internal/device"
	"factoryops/internal/metrics"
	"factoryops/internal/models"

	"github.com/rs/zerolog"
)

// Store is the read side of the ledger and directory.
type Store interface {
	ListEmployees(ctx context.Context) ([]models.Employee, error)
	ListRecords(ctx context.Context, f database.RecordFilter) ([]models.RecordView, error)
}

// Aggregator computes dashboard figures. Every sub-aggregate reads the store
// on its own and degrades to its zero value on failure, so a dashboard always
// renders.
type Aggregator struct {
	store         Store
	clock         clock.Clock
	loc           *time.Location
	standardHours float64
	cache         *Cache
	logger        zerolog.Logger
}

// NewAggregator creates an aggregator. standardHours is the overtime threshold.
func NewAggregator(store Store, clk clock.Clock, loc *time.Location, standardHours float64, logger zerolog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.Local
	}
	if standardHours <= 0 {
		standardHours = 8
	}
	return &Aggregator{
		store:         store,
		clock:         clk,
		loc:           loc,
		standardHours: standardHours,
		logger:        logger.With().Str("component", "stats").Logger(),
	}
}

// UseCache enables read-through caching of computed figures.
func (a *Aggregator) UseCache(c *Cache) {
	a.cache = c
}

// ListRecords returns the records visible to scope that match q, newest first.
func (a *Aggregator) ListRecords(ctx context.Context, scope access.Scope, q Query) ([]models.RecordView, error) {
	from, to := q.Range.Window(a.clock.Now(), a.loc)
	f := database.RecordFilter{
		FromDate:   from,
		ToDate:     to,
		EmployeeID: q.EmployeeID,
		Status:     q.Status,
		Search:     q.Search,
	}
	if self, ok := scope.SelfOnly(); ok {
		if q.EmployeeID > 0 && q.EmployeeID != self {
			return []models.RecordView{}, nil
		}
		f.EmployeeID = self
	}
	views, err := a.store.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scope.Records(views), nil
}

// ComputeStats returns the summary for scope over r.
func (a *Aggregator) ComputeStats(ctx context.Context, scope access.Scope, r DateRange) AttendanceStats {
	key := a.cacheKey("stats", scope, r)
	if cached, ok := cacheGet[AttendanceStats](ctx, a.cache, key); ok {
		return cached
	}

	var (
		out      AttendanceStats
		degraded bool
	)
	now := a.clock.Now()

	visible, err := a.visibleEmployees(ctx, scope)
	if err != nil {
		a.degrade("employees", err)
		degraded = true
	} else {
		out.TotalEmployees = len(visible)
		if err := a.countToday(ctx, scope, now, visible, &out); err != nil {
			a.degrade("today", err)
			degraded = true
		}
	}

	if views, err := a.records(ctx, scope, r, now); err != nil {
		a.degrade("hours", err)
		degraded = true
	} else {
		hoursAndBreaks(views, a.standardHours, &out)
	}

	if !degraded {
		a.cache.set(ctx, key, out)
	}
	return out
}

// countToday fills the today buckets. Each record lands in at most one bucket
// and only records of visible employees are counted, so the buckets never
// sum past TotalEmployees.
func (a *Aggregator) countToday(ctx context.Context, scope access.Scope, now time.Time, visible map[int64]bool, out *AttendanceStats) error {
	views, err := a.records(ctx, scope, RangeToday, now)
	if err != nil {
		return err
	}
	for _, v := range views {
		if !visible[v.EmployeeID] {
			continue
		}
		switch {
		case v.OnBreak && v.IsOpen():
			out.OnBreakToday++
		case v.Status == models.StatusPresent, v.Status == models.StatusHalfDay:
			out.PresentToday++
		case v.Status == models.StatusLate:
			out.LateToday++
		case v.Status == models.StatusAbsent:
			out.AbsentToday++
		case v.Status == models.StatusOnBreak:
			out.OnBreakToday++
		}
	}
	return nil
}

func hoursAndBreaks(views []models.RecordView, standard float64, out *AttendanceStats) {
	var (
		hoursSum   float64
		hoursCount int
		breakSum   int64
	)
	for _, v := range views {
		if v.HoursWorked != nil {
			h := *v.HoursWorked
			hoursSum += h
			hoursCount++
			out.OvertimeHours += math.Max(0, h-standard)
		}
		if v.TotalBreakTime != nil {
			breakSum += *v.TotalBreakTime
			out.TotalBreaks++
		}
	}
	if hoursCount > 0 {
		out.AverageHours = round2(hoursSum / float64(hoursCount))
	}
	out.OvertimeHours = round2(out.OvertimeHours)
	if out.TotalBreaks > 0 {
		out.AverageBreakTime = round2(float64(breakSum) / float64(out.TotalBreaks))
	}
}

// Trends returns per-day status counts in ascending date order. Half-day
// records count as present.
func (a *Aggregator) Trends(ctx context.Context, scope access.Scope, r DateRange) []TrendPoint {
	key := a.cacheKey("trends", scope, r)
	if cached, ok := cacheGet[[]TrendPoint](ctx, a.cache, key); ok {
		return cached
	}

	out := []TrendPoint{}

	views, err := a.records(ctx, scope, r, a.clock.Now())
	if err != nil {
		a.degrade("trends", err)
		return out
	}

	byDate := make(map[string]*TrendPoint)
	for _, v := range views {
		date := v.ClockInTime.In(a.loc).Format(models.DateLayout)
		p, ok := byDate[date]
		if !ok {
			p = &TrendPoint{Date: date}
			byDate[date] = p
		}
		switch v.Status {
		case models.StatusPresent, models.StatusHalfDay:
			p.Present++
		case models.StatusAbsent:
			p.Absent++
		case models.StatusLate:
			p.Late++
		}
	}
	for _, p := range byDate {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	a.cache.set(ctx, key, out)
	return out
}

// DeviceUsage returns the percentage of records per device bucket among
// records that carry a device snapshot. Percentages sum to exactly 100, or
// are all zero when no record has a snapshot.
func (a *Aggregator) DeviceUsage(ctx context.Context, scope access.Scope, r DateRange) DeviceStats {
	key := a.cacheKey("devices", scope, r)
	if cached, ok := cacheGet[DeviceStats](ctx, a.cache, key); ok {
		return cached
	}

	var out DeviceStats

	views, err := a.records(ctx, scope, r, a.clock.Now())
	if err != nil {
		a.degrade("devices", err)
		return out
	}

	counts := make(map[device.Bucket]int, len(device.Buckets))
	total := 0
	for _, v := range views {
		if v.RawDeviceInfo == "" {
			continue
		}
		counts[device.ClassifyStored(v.RawDeviceInfo)]++
		total++
	}

	pct := percentages(counts, total)
	out = DeviceStats{
		Desktop: pct[device.Desktop],
		Mobile:  pct[device.Mobile],
		Tablet:  pct[device.Tablet],
		Other:   pct[device.Other],
	}
	a.cache.set(ctx, key, out)
	return out
}

// percentages rounds shares with the largest-remainder method so they add
// up to 100.
func percentages(counts map[device.Bucket]int, total int) map[device.Bucket]int {
	out := make(map[device.Bucket]int, len(device.Buckets))
	if total == 0 {
		return out
	}

	type share struct {
		bucket    device.Bucket
		remainder int
	}
	shares := make([]share, 0, len(device.Buckets))
	assigned := 0
	for _, b := range device.Buckets {
		scaled := counts[b] * 100
		out[b] = scaled / total
		assigned += out[b]
		shares = append(shares, share{bucket: b, remainder: scaled % total})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].remainder > shares[j].remainder })
	for i := 0; assigned < 100; i++ {
		out[shares[i%len(shares)].bucket]++
		assigned++
	}
	return out
}

// LocationStats counts clock-ins per address. Records without a readable
// address are counted under models.UnknownLocation.
func (a *Aggregator) LocationStats(ctx context.Context, scope access.Scope, r DateRange) map[string]int {
	key := a.cacheKey("locations", scope, r)
	if cached, ok := cacheGet[map[string]int](ctx, a.cache, key); ok {
		return cached
	}

	out := map[string]int{}

	views, err := a.records(ctx, scope, r, a.clock.Now())
	if err != nil {
		a.degrade("locations", err)
		return out
	}
	for _, v := range views {
		out[models.DisplayAddress(v.RawClockInLocation)]++
	}

	a.cache.set(ctx, key, out)
	return out
}

// BreakStats summarizes total break time over records that have taken a break.
func (a *Aggregator) BreakStats(ctx context.Context, scope access.Scope, r DateRange) BreakStats {
	key := a.cacheKey("breaks", scope, r)
	if cached, ok := cacheGet[BreakStats](ctx, a.cache, key); ok {
		return cached
	}

	var out BreakStats

	views, err := a.records(ctx, scope, r, a.clock.Now())
	if err != nil {
		a.degrade("breaks", err)
		return out
	}

	var sum int64
	for _, v := range views {
		if v.TotalBreakTime == nil {
			continue
		}
		b := *v.TotalBreakTime
		if out.Count == 0 || b > out.Max {
			out.Max = b
		}
		if out.Count == 0 || b < out.Min {
			out.Min = b
		}
		sum += b
		out.Count++
	}
	if out.Count > 0 {
		out.Average = round2(float64(sum) / float64(out.Count))
	}

	a.cache.set(ctx, key, out)
	return out
}

// Analytics bundles trends, device, location and break statistics.
func (a *Aggregator) Analytics(ctx context.Context, scope access.Scope, r DateRange) Analytics {
	return Analytics{
		Trends:        a.Trends(ctx, scope, r),
		DeviceStats:   a.DeviceUsage(ctx, scope, r),
		LocationStats: a.LocationStats(ctx, scope, r),
		BreakStats:    a.BreakStats(ctx, scope, r),
	}
}

func (a *Aggregator) visibleEmployees(ctx context.Context, scope access.Scope) (map[int64]bool, error) {
	all, err := a.store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	visible := make(map[int64]bool)
	for _, e := range scope.Employees(all) {
		visible[e.ID] = true
	}
	return visible, nil
}

func (a *Aggregator) records(ctx context.Context, scope access.Scope, r DateRange, now time.Time) ([]models.RecordView, error) {
	from, to := r.Window(now, a.loc)
	f := database.RecordFilter{FromDate: from, ToDate: to}
	if self, ok := scope.SelfOnly(); ok {
		f.EmployeeID = self
	}
	views, err := a.store.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list records %s..%s: %w", from, to, err)
	}
	return scope.Records(views), nil
}

func (a *Aggregator) degrade(aggregate string, err error) {
	metrics.IncAggregateFailure(aggregate)
	a.logger.Error().Err(err).Str("aggregate", aggregate).Msg("aggregate degraded to zero value")
}

func (a *Aggregator) cacheKey(kind string, scope access.Scope, r DateRange) string {
	today := a.clock.Now().In(a.loc).Format(models.DateLayout)
	return kind + ":" + scope.Key() + ":" + string(r) + ":" + today
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
