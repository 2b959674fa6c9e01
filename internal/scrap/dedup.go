package scrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Action is the outcome of the dedup decision for one object.
type Action int

const (
	// ActionProceed ingests the object from scratch.
	ActionProceed Action = iota
	// ActionSkip leaves a fully processed object alone.
	ActionSkip
	// ActionResume tops up a partially written aggregate without clearing it.
	ActionResume
	// ActionError reports that the object could not be evaluated.
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionSkip:
		return "skip"
	case ActionResume:
		return "resume"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Fingerprint is the result of the streaming pass over one object.
type Fingerprint struct {
	Key  string
	Hash string
	Size int64
	// Parsed is the number of fragments the Line Parser produced.
	Parsed int64
	Stats  *ParseStats
	// Cached is true when Hash came from the Hash Cache.
	Cached bool
}

// Decision is what the pipeline does with one fingerprinted object.
type Decision struct {
	Action      Action
	Aggregate   *FileAggregate
	Fingerprint *Fingerprint
	// Live is the number of records the aggregate held when decided.
	Live int64
	// Purged is the number of records removed by a forced reingest.
	Purged int64
	Err    error
}

// DedupEngine decides, per object, whether to skip, resume, ingest or
// re-ingest it, keyed by content hash.
type DedupEngine struct {
	objects ObjectStore
	store   Store
	index   SearchIndex
	cache   HashCache
	parser  *LineParser
	clock   Clock
	logger  Logger
}

// NewDedupEngine creates a DedupEngine. index may be nil, in which case a
// forced reingest does not purge search documents.
func NewDedupEngine(objects ObjectStore, store Store, index SearchIndex, cache HashCache, parser *LineParser, clock Clock, logger Logger) *DedupEngine {
	return &DedupEngine{
		objects: objects,
		store:   store,
		index:   index,
		cache:   cache,
		parser:  parser,
		clock:   clock,
		logger:  logger,
	}
}

// Fingerprint streams the object once, counting parsed fragments and hashing
// the content. A cached hash is reused unless force is set, the aggregate it
// points to is gone, or the object's size no longer matches it.
func (d *DedupEngine) Fingerprint(ctx context.Context, ref ObjectRef) (*Fingerprint, error) {
	return d.fingerprint(ctx, ref, false)
}

// ForceFingerprint is Fingerprint without the Hash Cache.
func (d *DedupEngine) ForceFingerprint(ctx context.Context, ref ObjectRef) (*Fingerprint, error) {
	return d.fingerprint(ctx, ref, true)
}

func (d *DedupEngine) fingerprint(ctx context.Context, ref ObjectRef, force bool) (*Fingerprint, error) {
	if !force {
		if hash, ok := d.cache.Get(ref.Key); ok {
			agg, err := d.store.FindAggregateByHash(ctx, hash)
			if err != nil {
				return nil, fmt.Errorf("looking up cached hash: %w", err)
			}
			if agg != nil {
				fp, err := d.pass(ctx, ref, false)
				if err != nil {
					return nil, err
				}
				if RoundMB(fp.Size) == agg.SizeMB {
					fp.Hash = hash
					fp.Cached = true
					return fp, nil
				}
			}
			d.logger.Debug("ignoring stale hash cache entry", "key", ref.Key)
		}
	}
	return d.pass(ctx, ref, true)
}

// pass reads the object once through the Line Parser, hashing it on the way
// when hashing is set.
func (d *DedupEngine) pass(ctx context.Context, ref ObjectRef, hashing bool) (*Fingerprint, error) {
	rc, err := d.objects.Open(ctx, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", ref.Key, err)
	}
	defer rc.Close()

	counter := &countingReader{r: rc}
	var r io.Reader = counter
	h := sha256.New()
	if hashing {
		r = io.TeeReader(counter, h)
	}

	stats, err := d.parser.Parse(r, func(string) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref.Key, err)
	}

	fp := &Fingerprint{
		Key:    ref.Key,
		Size:   counter.n,
		Parsed: stats.Fragments,
		Stats:  stats,
	}
	if hashing {
		fp.Hash = hex.EncodeToString(h.Sum(nil))
	}
	return fp, nil
}

// Decide applies the dedup policy to a fingerprinted object. The caller must
// hold the per-hash writer lock until the write pass for the decision ends.
func (d *DedupEngine) Decide(ctx context.Context, fp *Fingerprint, force bool) *Decision {
	agg, err := d.store.FindAggregateByHash(ctx, fp.Hash)
	if err != nil {
		return errorDecision(fp, fmt.Errorf("finding aggregate: %w", err))
	}

	if agg == nil {
		candidate := &FileAggregate{
			SourceKey:   fp.Key,
			ContentHash: fp.Hash,
			SizeMB:      RoundMB(fp.Size),
			CreatedAt:   d.clock.Now(),
			Active:      true,
			State:       StateHashed,
		}
		got, created, err := d.store.CreateOrFetchAggregate(ctx, candidate)
		if err != nil {
			return errorDecision(fp, fmt.Errorf("creating aggregate: %w", err))
		}
		if created {
			d.logger.Info("aggregate created", "key", fp.Key, "hash", fp.Hash, "id", got.ID)
			return &Decision{Action: ActionProceed, Aggregate: got, Fingerprint: fp}
		}
		d.logger.Info("aggregate created concurrently, using existing", "key", fp.Key, "hash", fp.Hash, "id", got.ID)
		agg = got
	}

	return d.decideExisting(ctx, agg, fp, force)
}

func (d *DedupEngine) decideExisting(ctx context.Context, agg *FileAggregate, fp *Fingerprint, force bool) *Decision {
	if agg.SourceKey != fp.Key {
		d.logger.Debug("aggregate seen under new key", "id", agg.ID, "previous", agg.SourceKey, "key", fp.Key)
		agg.SourceKey = fp.Key
		if err := d.store.UpdateAggregate(ctx, agg); err != nil {
			return errorDecision(fp, fmt.Errorf("updating source key: %w", err))
		}
	}

	if force {
		return d.purge(ctx, agg, fp)
	}

	live, err := d.store.CountRecords(ctx, agg.ID)
	if err != nil {
		return errorDecision(fp, fmt.Errorf("counting records: %w", err))
	}

	dec := &Decision{Aggregate: agg, Fingerprint: fp, Live: live}
	switch {
	case live >= fp.Parsed:
		dec.Action = ActionSkip
	case agg.State.Ingested() && agg.ParsedLines == fp.Parsed:
		// Repeated lines collapse into one record, so a complete pass can
		// leave fewer records than parsed fragments.
		dec.Action = ActionSkip
	default:
		dec.Action = ActionResume
	}
	return dec
}

// purge clears an aggregate's records and search documents for a forced
// reingest.
func (d *DedupEngine) purge(ctx context.Context, agg *FileAggregate, fp *Fingerprint) *Decision {
	purged, err := d.store.DeleteRecords(ctx, agg.ID)
	if err != nil {
		return errorDecision(fp, fmt.Errorf("purging records: %w", err))
	}
	if d.index != nil {
		if _, err := d.index.DeleteByFile(ctx, agg.ID); err != nil {
			return errorDecision(fp, fmt.Errorf("purging search documents: %w", err))
		}
	}
	if err := d.store.SetAggregateCount(ctx, agg.ID, 0); err != nil {
		return errorDecision(fp, fmt.Errorf("resetting record count: %w", err))
	}
	agg.RecordCount = 0
	agg.ParsedLines = 0
	agg.State = StateHashed
	if err := d.store.UpdateAggregate(ctx, agg); err != nil {
		return errorDecision(fp, fmt.Errorf("resetting aggregate: %w", err))
	}

	d.logger.Info("forced reingest, records purged", "id", agg.ID, "purged", purged)
	return &Decision{Action: ActionProceed, Aggregate: agg, Fingerprint: fp, Purged: purged}
}

func errorDecision(fp *Fingerprint, err error) *Decision {
	return &Decision{Action: ActionError, Fingerprint: fp, Err: err}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
