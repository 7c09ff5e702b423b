// Package pipeline turns a (series, date) request into a cached artifact:
// existence check, download, structural validation, duplicate check, persist,
// and record. Every attempt that reaches the network leaves exactly one
// retrieval record behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/imagecheck"
	"github.com/JakeFAU/comic-cacher/internal/metrics"
)

// ImageValidator performs structural checks on downloaded bytes.
type ImageValidator interface {
	Validate(data []byte) (imagecheck.Info, error)
}

// DuplicateChecker decides whether a download repeats a cached artifact.
type DuplicateChecker interface {
	Validate(ctx context.Context, series comic.Series, date time.Time, candidate []byte) (comic.DuplicateValidationResult, error)
}

// Config tunes the pipeline.
type Config struct {
	// Concurrency bounds RunDaily fan-out.
	Concurrency int `mapstructure:"concurrency"`
}

// Outcome describes how one retrieval ended.
type Outcome struct {
	Series    comic.Series
	Date      time.Time
	Status    comic.RetrievalStatus
	Cached    bool
	Path      string
	Message   string
	Duplicate *comic.DuplicateValidationResult
	Record    *comic.RetrievalRecord
}

// Succeeded reports whether the artifact is now on disk.
func (o Outcome) Succeeded() bool {
	return o.Status == comic.StatusSuccess
}

// Pipeline coordinates the retrieval steps.
type Pipeline struct {
	store       comic.ArtifactStore
	downloader  comic.Downloader
	validator   ImageValidator
	dedup       DuplicateChecker
	sink        comic.RecordSink
	clock       comic.Clock
	ids         comic.IDGenerator
	concurrency int
	logger      *zap.Logger

	inflight singleflight.Group
}

// New wires a Pipeline.
func New(
	cfg Config,
	store comic.ArtifactStore,
	downloader comic.Downloader,
	validator ImageValidator,
	dedup DuplicateChecker,
	sink comic.RecordSink,
	clock comic.Clock,
	ids comic.IDGenerator,
	logger *zap.Logger,
) (*Pipeline, error) {
	if store == nil || downloader == nil || validator == nil || dedup == nil || sink == nil {
		return nil, fmt.Errorf("pipeline requires store, downloader, validator, dedup and sink")
	}
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("pipeline requires clock and id generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pipeline{
		store:       store,
		downloader:  downloader,
		validator:   validator,
		dedup:       dedup,
		sink:        sink,
		clock:       clock,
		ids:         ids,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Retrieve ensures the artifact for series on date is cached. A cached date
// returns immediately without a network call or a record. Concurrent calls for
// the same series and date share one attempt, which runs to completion even
// if the caller gives up. The returned error is non-nil when the outcome could
// not be recorded or ctx ended first.
func (p *Pipeline) Retrieve(ctx context.Context, series comic.Series, date time.Time) (Outcome, error) {
	day := comic.Day(date)
	if p.store.Exists(series, day) {
		return cachedOutcome(series, day), nil
	}

	ch := p.inflight.DoChan(comic.RecordID(series, day), func() (any, error) {
		// Another attempt may have finished between the check and the claim.
		if p.store.Exists(series, day) {
			return cachedOutcome(series, day), nil
		}
		shared := context.WithoutCancel(ctx)
		start := p.clock.Now()
		out := p.attempt(shared, series, day)
		err := p.record(shared, &out, start)
		if out.Succeeded() {
			p.ensureAvatar(shared, series)
		}
		return out, err
	})
	select {
	case <-ctx.Done():
		return Outcome{Series: series, Date: day}, fmt.Errorf("retrieve %s: %w", comic.RecordID(series, day), ctx.Err())
	case res := <-ch:
		out, _ := res.Val.(Outcome)
		return out, res.Err
	}
}

func cachedOutcome(series comic.Series, day time.Time) Outcome {
	return Outcome{Series: series, Date: day, Status: comic.StatusSuccess, Cached: true}
}

func (p *Pipeline) attempt(ctx context.Context, series comic.Series, day time.Time) Outcome {
	out := Outcome{Series: series, Date: day}

	res := p.downloader.DownloadComic(ctx, comic.NewDownloadRequest(series, day))
	if !res.Success {
		out.Status = res.Failure.Status()
		out.Message = res.ErrorMessage
		return out
	}

	if _, err := p.validator.Validate(res.Image); err != nil {
		out.Status = comic.StatusValidationError
		out.Message = err.Error()
		return out
	}

	dup, err := p.dedup.Validate(ctx, series, day, res.Image)
	if err != nil {
		out.Status = comic.StatusValidationError
		out.Message = fmt.Sprintf("duplicate check: %v", err)
		return out
	}
	if dup.IsDuplicate {
		out.Status = comic.StatusDuplicateRejected
		out.Duplicate = &dup
		if dup.MatchedDate != nil {
			out.Message = fmt.Sprintf("image matches artifact from %s", comic.FormatDate(*dup.MatchedDate))
		}
		return out
	}

	path, err := p.store.Write(series, day, res.Image)
	if err != nil {
		out.Status = comic.StatusStorageError
		out.Message = err.Error()
		return out
	}
	out.Status = comic.StatusSuccess
	out.Path = path
	out.Record = &comic.RetrievalRecord{ImageSizeBytes: int64(len(res.Image))}
	return out
}

func (p *Pipeline) record(ctx context.Context, out *Outcome, start time.Time) error {
	rec := comic.RetrievalRecord{}
	if out.Record != nil {
		rec = *out.Record
	}
	now := p.clock.Now()
	rec.ID = comic.RecordID(out.Series, out.Date)
	rec.SeriesName = out.Series.Name
	rec.Date = out.Date
	rec.Source = out.Series.Source
	rec.Status = out.Status
	rec.ErrorMessage = out.Message
	rec.DurationMs = now.Sub(start).Milliseconds()
	rec.Timestamp = now

	attemptID, err := p.ids.NewID()
	if err != nil {
		return fmt.Errorf("attempt id: %w", err)
	}
	rec.AttemptID = attemptID
	out.Record = &rec

	fields := []zap.Field{
		zap.String("series", out.Series.Name),
		zap.String("date", comic.FormatDate(out.Date)),
		zap.String("source", out.Series.Source),
		zap.String("status", string(out.Status)),
		zap.Int64("duration_ms", rec.DurationMs),
	}
	switch out.Status {
	case comic.StatusSuccess:
		p.logger.Info("retrieval succeeded", append(fields, zap.Int64("bytes", rec.ImageSizeBytes))...)
	case comic.StatusNotYetPublished, comic.StatusDuplicateRejected:
		p.logger.Info("retrieval skipped", append(fields, zap.String("reason", out.Message))...)
	default:
		p.logger.Warn("retrieval failed", append(fields, zap.String("error", out.Message))...)
	}
	metrics.ObserveRetrieval(out.Series.Source, string(out.Status), rec.ImageSizeBytes, time.Duration(rec.DurationMs)*time.Millisecond)

	if err := p.sink.Record(ctx, rec); err != nil {
		return fmt.Errorf("record retrieval %s: %w", rec.ID, err)
	}
	return nil
}

// ensureAvatar fetches the series avatar once. Failures are logged only.
func (p *Pipeline) ensureAvatar(ctx context.Context, series comic.Series) {
	if p.store.HasAvatar(series) {
		return
	}
	data, ok := p.downloader.DownloadAvatar(ctx, series)
	if !ok {
		p.logger.Debug("no avatar available", zap.String("series", series.Name))
		return
	}
	if _, err := p.store.WriteAvatar(series, data); err != nil {
		p.logger.Warn("failed to store avatar", zap.String("series", series.Name), zap.Error(err))
	}
}

// RunDaily retrieves date for every series with bounded concurrency and returns
// the outcomes in input order. Failures of one series never stop the others.
func (p *Pipeline) RunDaily(ctx context.Context, series []comic.Series, date time.Time) ([]Outcome, error) {
	outcomes := make([]Outcome, len(series))
	errs := make([]error, len(series))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range series {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				outcomes[i] = Outcome{Series: series[i], Date: comic.Day(date)}
				return nil
			}
			outcomes[i], errs[i] = p.Retrieve(ctx, series[i], date)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}
