package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vpnsentry/internal/appliance"
	"vpnsentry/internal/detect"
	"vpnsentry/internal/directory"
	"vpnsentry/internal/logger"
	"vpnsentry/internal/metrics"
	"vpnsentry/internal/rules"
	"vpnsentry/internal/store"
	"vpnsentry/pkg/models"
)

// DirectoryLookup resolves a login identifier to directory attributes.
type DirectoryLookup interface {
	Lookup(ctx context.Context, username string) (*models.DirectoryInfo, error)
}

// GeoLookup resolves an IP address to a location.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (*models.Location, error)
}

// Locker provides mutual exclusion across concurrent scheduled runs. Acquire
// returns a release func and false when the lock is already held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error)
}

// Config controls one ingestion run.
type Config struct {
	// Lookback is the steady-state poll window. InitialLookback is used
	// instead when a category's table is still empty (first backfill).
	Lookback        time.Duration
	InitialLookback time.Duration

	FetchLimit  int
	SettleDelay time.Duration
	MaxWait     time.Duration

	// ClockOffset is subtracted from appliance timestamps before persisting.
	ClockOffset time.Duration

	LockTTL time.Duration

	// TrustedCountries are ISO country codes whose logins are not marked
	// suspicious. An empty list marks every geolocated login suspicious.
	TrustedCountries []string
}

// Orchestrator turns appliance search results into enriched, deduplicated
// domain records, one category at a time.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	appliance *appliance.Client
	directory DirectoryLookup
	geo       GeoLookup
	lock      Locker
	engine    rules.Engine
	brute     *detect.BruteForceDetector
	travel    *detect.TravelDetector

	trusted map[string]bool
	now     func() time.Time
}

// New creates an orchestrator. The directory, geo, lock, engine and detector
// collaborators may be nil; the matching pipeline step is then skipped.
func New(cfg Config, st *store.Store, app *appliance.Client, dir DirectoryLookup,
	geo GeoLookup, lock Locker, engine rules.Engine,
	brute *detect.BruteForceDetector, travel *detect.TravelDetector) *Orchestrator {

	if cfg.Lookback <= 0 {
		cfg.Lookback = 10 * time.Minute
	}
	if cfg.InitialLookback <= 0 {
		cfg.InitialLookback = 365 * 24 * time.Hour
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 1000
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}

	trusted := make(map[string]bool, len(cfg.TrustedCountries))
	for _, code := range cfg.TrustedCountries {
		trusted[strings.ToUpper(strings.TrimSpace(code))] = true
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		appliance: app,
		directory: dir,
		geo:       geo,
		lock:      lock,
		engine:    engine,
		brute:     brute,
		travel:    travel,
		trusted:   trusted,
		now:       time.Now,
	}
}

// CategoryResult is the outcome of one category within a run.
type CategoryResult struct {
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Locked     bool   `json:"locked,omitempty"`
	Err        string `json:"error,omitempty"`
}

// RunReport is the structured summary of one ingestion run. Category
// failures are recorded here instead of propagating; a run never fails as
// a whole.
type RunReport struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Results    map[string]*CategoryResult `json:"results"`
}

// Summary renders the report as a one-line log string.
func (r *RunReport) Summary() string {
	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		res := r.Results[name]
		switch {
		case res.Locked:
			parts = append(parts, name+": locked")
		case res.Err != "":
			parts = append(parts, fmt.Sprintf("%s: error (%s)", name, res.Err))
		default:
			parts = append(parts, fmt.Sprintf("%s: imported=%d duplicates=%d",
				name, res.Imported, res.Duplicates))
		}
	}
	return strings.Join(parts, "; ")
}

// Run ingests the given categories, or all of them when none are named.
// Each category runs under its own lock and fails independently.
func (o *Orchestrator) Run(ctx context.Context, cats ...Category) *RunReport {
	if len(cats) == 0 {
		cats = Categories
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
		Results:   make(map[string]*CategoryResult, len(cats)),
	}
	logger.Infof("Ingestion run %s starting (%d categories)", report.RunID, len(cats))

	for _, cat := range cats {
		res := &CategoryResult{}
		report.Results[cat.Name] = res
		o.runLocked(ctx, cat, res)
	}

	report.FinishedAt = o.now().UTC()
	logger.Infof("Ingestion run %s finished: %s", report.RunID, report.Summary())
	return report
}

func (o *Orchestrator) runLocked(ctx context.Context, cat Category, res *CategoryResult) {
	if o.lock != nil {
		release, ok, err := o.lock.Acquire(ctx, "ingest:"+cat.Name, o.cfg.LockTTL)
		if err != nil {
			res.Err = err.Error()
			metrics.CategoryErrors.WithLabelValues(cat.Name).Inc()
			logger.Errorf("Lock acquisition failed for %s: %v", cat.Name, err)
			return
		}
		if !ok {
			res.Locked = true
			metrics.LockContention.WithLabelValues("ingest:" + cat.Name).Inc()
			logger.Warnf("Ingestion for %s is already running, skipping", cat.Name)
			return
		}
		defer release()
	}

	if err := o.runCategory(ctx, cat, res); err != nil {
		res.Err = err.Error()
		metrics.CategoryErrors.WithLabelValues(cat.Name).Inc()
		logger.Errorf("Ingestion failed for %s: %v", cat.Name, err)
		return
	}
	logger.Infof("Category %s done: imported=%d duplicates=%d skipped=%d failed=%d",
		cat.Name, res.Imported, res.Duplicates, res.Skipped, res.Failed)
}

func (o *Orchestrator) runCategory(ctx context.Context, cat Category, res *CategoryResult) error {
	lookback, err := o.lookbackFor(ctx, cat)
	if err != nil {
		return err
	}

	end := o.now().UTC()
	tid, err := o.appliance.SubmitQuery(ctx, appliance.Query{
		LogType: cat.LogType,
		Start:   end.Add(-lookback),
		End:     end,
		Filter:  cat.Filter,
	})
	if err != nil {
		return fmt.Errorf("submit query: %w", err)
	}
	logger.Debugf("Category %s search task %d submitted (lookback %s)", cat.Name, tid, lookback)

	if err := o.appliance.WaitForTask(ctx, tid, o.cfg.SettleDelay, o.cfg.MaxWait); err != nil {
		return fmt.Errorf("wait for task %d: %w", tid, err)
	}

	offset := 0
	for {
		resp, err := o.appliance.FetchResults(ctx, tid, o.cfg.FetchLimit, offset)
		if err != nil {
			return fmt.Errorf("fetch results at offset %d: %w", offset, err)
		}
		records := appliance.ExtractRecords(resp)
		if len(records) == 0 {
			break
		}

		for _, raw := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.processRecord(ctx, cat, raw, res)
		}

		if len(records) < o.cfg.FetchLimit {
			break
		}
		offset += len(records)
	}
	return nil
}

// lookbackFor picks the backfill window for an empty table and the short
// steady-state window otherwise.
func (o *Orchestrator) lookbackFor(ctx context.Context, cat Category) (time.Duration, error) {
	var count int64
	var err error
	if cat.Name == CategoryVPN {
		count, err = o.store.CountConnections(ctx)
	} else {
		count, err = o.store.CountSecurityEvents(ctx, cat.Name)
	}
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return o.cfg.InitialLookback, nil
	}
	return o.cfg.Lookback, nil
}

func (o *Orchestrator) processRecord(ctx context.Context, cat Category, raw models.RawRecord, res *CategoryResult) {
	var err error
	if cat.Name == CategoryVPN {
		switch classifyAction(raw.String("action")) {
		case outcomeConnection:
			err = o.processConnection(ctx, raw, res)
		case outcomeAuthFailure:
			err = o.processAuthFailure(ctx, raw, res)
		default:
			res.Skipped++
			return
		}
	} else {
		err = o.processSecurityEvent(ctx, cat, raw, res)
	}

	if err != nil {
		res.Failed++
		logger.Warnf("Record processing failed for %s: %v", cat.Name, err)
	}
}

func (o *Orchestrator) processConnection(ctx context.Context, raw models.RawRecord, res *CategoryResult) error {
	key := sessionKey(raw)
	exists, err := o.store.ConnectionExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		o.markDuplicate(CategoryVPN, res)
		return nil
	}

	start := recordTime(raw, o.cfg.ClockOffset, o.now().UTC())
	duration := raw.Int("duration")
	rec := &models.ConnectionRecord{
		SessionID:       key,
		Username:        usernameFrom(raw),
		SourceIP:        sourceIPFrom(raw),
		StartTime:       start,
		EndTime:         start.Add(time.Duration(duration) * time.Second),
		DurationSeconds: duration,
		BytesIn:         raw.Int("rcvdbyte"),
		BytesOut:        raw.Int("sentbyte"),
		Status:          statusForAction(raw.String("action")),
		Raw:             raw,
	}

	if info := o.lookupDirectory(ctx, rec.Username); info != nil {
		rec.Department = info.Department
		rec.Email = info.Email
		rec.Title = info.Title
		rec.DisplayName = info.DisplayName
	}
	if loc := o.lookupGeo(ctx, rec.SourceIP); loc != nil {
		rec.City = loc.City
		rec.CountryName = loc.CountryName
		rec.CountryCode = loc.CountryCode
	}
	rec.IsSuspicious = rec.CountryCode != "" && !o.trusted[strings.ToUpper(rec.CountryCode)]

	if o.travel != nil {
		if err := o.travel.Evaluate(ctx, rec); err != nil {
			logger.Warnf("Impossible-travel check failed for %s: %v", rec.Username, err)
		}
	}

	if err := o.store.InsertConnection(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			o.markDuplicate(CategoryVPN, res)
			return nil
		}
		return err
	}
	o.markImported(CategoryVPN, res)
	return nil
}

func (o *Orchestrator) processAuthFailure(ctx context.Context, raw models.RawRecord, res *CategoryResult) error {
	key := raw.ContentHash()
	exists, err := o.store.AuthFailureExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		o.markDuplicate(CategoryVPN, res)
		return nil
	}

	action := raw.String("action")
	reason := raw.String("reason")
	if reason == "" {
		reason = action
	}

	failure := &models.AuthFailureRecord{
		DedupKey:  key,
		Username:  usernameFrom(raw),
		SourceIP:  sourceIPFrom(raw),
		Timestamp: recordTime(raw, o.cfg.ClockOffset, o.now().UTC()),
		Reason:    reason,
		Raw:       raw,
	}
	if loc := o.lookupGeo(ctx, failure.SourceIP); loc != nil {
		failure.City = loc.City
		failure.CountryCode = loc.CountryCode
	}

	if err := o.store.InsertAuthFailure(ctx, failure); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			o.markDuplicate(CategoryVPN, res)
			return nil
		}
		return err
	}
	o.markImported(CategoryVPN, res)

	if o.brute != nil {
		if _, err := o.brute.Evaluate(ctx, failure); err != nil {
			logger.Warnf("Brute-force check failed for %s: %v", failure.Username, err)
		}
	}
	return nil
}

func (o *Orchestrator) processSecurityEvent(ctx context.Context, cat Category, raw models.RawRecord, res *CategoryResult) error {
	eventID := raw.ContentHash()
	exists, err := o.store.SecurityEventExists(ctx, eventID)
	if err != nil {
		return err
	}
	if exists {
		o.markDuplicate(cat.Name, res)
		return nil
	}

	ts := recordTime(raw, o.cfg.ClockOffset, o.now().UTC())
	ev := &models.SecurityEvent{
		EventID:         eventID,
		Category:        cat.Name,
		Severity:        severityFrom(raw.String("level")),
		Timestamp:       ts,
		Date:            ts.Format("2006-01-02"),
		SourceIP:        raw.String("srcip"),
		DestinationIP:   raw.String("dstip"),
		SourcePort:      int(raw.Int("srcport")),
		DestinationPort: int(raw.Int("dstport")),
		Username:        raw.String("user"),
		Action:          raw.String("action"),
		Raw:             raw,
	}

	switch cat.Name {
	case models.CategoryIntrusion:
		ev.AttackName = raw.String("attack")
		ev.AttackID = raw.String("attackid")
		ev.CVE = raw.String("cve")
	case models.CategoryAntivirus:
		ev.VirusName = raw.String("virus")
		ev.FileName = raw.String("filename")
		ev.FileHash = raw.String("checksum")
	case models.CategoryWebFilter:
		ev.URL = unescapeURL(raw.String("url"))
		ev.WebCategory = raw.String("catdesc")
	}

	if info := o.lookupDirectory(ctx, ev.Username); info != nil {
		ev.Email = info.Email
		ev.Department = info.Department
		ev.Title = info.Title
		ev.DisplayName = info.DisplayName
	}
	if loc := o.lookupGeo(ctx, ev.SourceIP); loc != nil {
		ev.SourceCountry = loc.CountryName
	}
	if loc := o.lookupGeo(ctx, ev.DestinationIP); loc != nil {
		ev.DestinationCountry = loc.CountryName
	}

	for _, tag := range o.engine.Apply(raw) {
		ev.RuleTags = append(ev.RuleTags, tag.Title)
		// A rule match can raise severity, never lower it.
		if lvl := strings.ToLower(tag.Level); severityRank(lvl) > severityRank(ev.Severity) {
			ev.Severity = lvl
		}
	}

	if err := o.store.InsertSecurityEvent(ctx, ev); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			o.markDuplicate(cat.Name, res)
			return nil
		}
		return err
	}
	o.markImported(cat.Name, res)
	return nil
}

// lookupDirectory resolves a username, tolerating lookup failures. Placeholder
// identities and missing entries resolve to nil.
func (o *Orchestrator) lookupDirectory(ctx context.Context, username string) *models.DirectoryInfo {
	if o.directory == nil || directory.IsPlaceholder(username) {
		return nil
	}
	info, err := o.directory.Lookup(ctx, directory.CleanUsername(username))
	if err != nil {
		logger.Warnf("Directory lookup failed for %s: %v", username, err)
		return nil
	}
	return info
}

// lookupGeo resolves an IP, tolerating lookup failures.
func (o *Orchestrator) lookupGeo(ctx context.Context, ip string) *models.Location {
	if o.geo == nil || ip == "" || ip == "0.0.0.0" {
		return nil
	}
	loc, err := o.geo.Lookup(ctx, ip)
	if err != nil {
		logger.Warnf("Geo lookup failed for %s: %v", ip, err)
		return nil
	}
	return loc
}

func (o *Orchestrator) markImported(category string, res *CategoryResult) {
	res.Imported++
	metrics.RecordsImported.WithLabelValues(category).Inc()
}

func (o *Orchestrator) markDuplicate(category string, res *CategoryResult) {
	res.Duplicates++
	metrics.DuplicatesSkipped.WithLabelValues(category).Inc()
}

func unescapeURL(raw string) string {
	if dec, err := url.QueryUnescape(raw); err == nil {
		return dec
	}
	return raw
}
