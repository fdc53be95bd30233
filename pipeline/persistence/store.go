// Package persistence implements the pipeline subsystem's two keyed
// stores (latest + historical), grounded in the teacher's
// module/persistence.go and module/state_tracker.go: a composite
// "run|pipeline|var[|ts]" string key into an in-memory map, guarded by a
// mutex, with slog used for the non-fatal stale-layout log path.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/riverforge/pipeline/pipeline"
)

// RecordSource mirrors pipeline.Source in the persisted-record shape
// described in spec.md §6 (field names normative).
type RecordSource struct {
	Step      string `json:"step"`
	InputHash uint64 `json:"inputHash"`
}

// SerializedVariable is one persisted variable value, per spec.md §6.
type SerializedVariable struct {
	RunID          string        `json:"run_id"`
	Pipeline       string        `json:"pipeline"`
	StructuralHash uint64        `json:"structuralHash"`
	Source         *RecordSource `json:"source"`
	Timestamp      int64         `json:"timestamp"`
	Key            string        `json:"key"`
	Value          string        `json:"value"`
}

// Store holds the latest and historical keyed maps. All keys are
// composite strings: latest is "run_id|pipeline_id|var_name", historical
// is "run_id|pipeline_id|var_name|timestamp_ms".
type Store struct {
	mu         sync.RWMutex
	latest     map[string]SerializedVariable
	historical map[string]SerializedVariable
	// lastTimestamp tracks the most recent historical write per latest-key
	// so Timestamp can be clamped forward when the wall clock does not
	// strictly advance (spec.md §9, open question resolved: clamp).
	lastTimestamp map[string]int64
	loadGroup     singleflight.Group
	logger        *slog.Logger
	now           func() time.Time
}

// NewStore creates an empty Store. logger may be nil, in which case
// slog.Default() is used, matching the teacher's nil-logger convention.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		latest:        make(map[string]SerializedVariable),
		historical:    make(map[string]SerializedVariable),
		lastTimestamp: make(map[string]int64),
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func latestKey(runID, pipelineID, varName string) string {
	return runID + "|" + pipelineID + "|" + varName
}

func historicalKey(latest string, ts int64) string {
	return latest + "|" + strconv.FormatInt(ts, 10)
}

// SerializeKeys persists the given keys from ctx, tagged with the owning
// VariableSet's current structural hash. All keys written in one call
// commit together (an in-memory map write under a single lock — there is
// no partial-commit path).
func (s *Store) SerializeKeys(_ context.Context, runID string, pipelineID string, vs *pipeline.VariableSet, keys []pipeline.AnyKey, ctxData *pipeline.SourceTracked) error {
	structHash := vs.StructuralHash(false)
	nowMs := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	type pendingWrite struct {
		lk  string
		rec SerializedVariable
	}
	var writes []pendingWrite

	for _, k := range keys {
		value, src, ok := ctxData.RawGet(k)
		if !ok {
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("persistence: serialize key %q: %w", k.Name(), err)
		}

		lk := latestKey(runID, pipelineID, k.Name())
		ts := nowMs
		if prev, ok := s.lastTimestamp[lk]; ok && ts <= prev {
			ts = prev + 1
			s.log().Warn("persistence: clamped non-monotonic timestamp", "key", k.Name(), "run_id", runID, "pipeline", pipelineID)
		}

		var recSrc *RecordSource
		if src != nil {
			recSrc = &RecordSource{Step: src.StepName, InputHash: src.InputHash}
		}

		rec := SerializedVariable{
			RunID:          runID,
			Pipeline:       pipelineID,
			StructuralHash: structHash,
			Source:         recSrc,
			Timestamp:      ts,
			Key:            k.Name(),
			Value:          string(data),
		}

		writes = append(writes, pendingWrite{lk: lk, rec: rec})
	}

	for _, w := range writes {
		s.lastTimestamp[w.lk] = w.rec.Timestamp
		s.latest[w.lk] = w.rec
		s.historical[historicalKey(w.lk, w.rec.Timestamp)] = w.rec
	}
	return nil
}

// SerializePipeline persists every key declared by the pipeline's steps
// (consumes ∪ produces) present in ctxData.
func (s *Store) SerializePipeline(ctx context.Context, runID string, p *pipeline.Pipeline, vs *pipeline.VariableSet, ctxData *pipeline.SourceTracked) error {
	return s.SerializeKeys(ctx, runID, p.ID, vs, p.AllVariables(true), ctxData)
}

// LoadContextForPipeline builds a SourceTracked context from the latest
// store, for every key in p.AllVariables(includeOutputs). A record whose
// structural hash no longer matches vs's current declaration is skipped
// with a log, not returned as an error (spec.md §4.7, §7
// UnsupportedStructuralHash). Concurrent loads for the same run/pipeline
// are deduplicated via singleflight, since the store itself is read-many
// but each load does repeated map lookups under RLock.
func (s *Store) LoadContextForPipeline(ctx context.Context, runID string, p *pipeline.Pipeline, vs *pipeline.VariableSet, seed *pipeline.SourceTracked, overwrite bool, includeOutputs bool) (*pipeline.SourceTracked, error) {
	groupKey := runID + "|" + p.ID
	v, err, _ := s.loadGroup.Do(groupKey, func() (any, error) {
		return s.loadContextForPipeline(runID, p, vs, includeOutputs)
	})
	if err != nil {
		return nil, err
	}
	loaded := v.(*pipeline.SourceTracked)

	out := seed
	if out == nil {
		out = pipeline.NewSourceTracked()
	} else if !overwrite {
		out = out.Clone()
	}

	for _, k := range p.AllVariables(includeOutputs) {
		if overwrite || !out.Exists(k) {
			if value, src, ok := loaded.RawGet(k); ok {
				out.RawSet(k, value, src)
			}
		}
	}
	return out, nil
}

func (s *Store) loadContextForPipeline(runID string, p *pipeline.Pipeline, vs *pipeline.VariableSet, includeOutputs bool) (*pipeline.SourceTracked, error) {
	result := pipeline.NewSourceTracked()
	structHash := vs.StructuralHash(false)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range p.AllVariables(includeOutputs) {
		lk := latestKey(runID, p.ID, k.Name())
		rec, ok := s.latest[lk]
		if !ok {
			continue
		}
		if rec.StructuralHash != structHash {
			s.log().Warn("persistence: skipping stale-layout record", "key", k.Name(), "run_id", runID, "pipeline", p.ID, "error", &pipeline.UnsupportedStructuralHashError{Key: k.Name()})
			continue
		}

		deserialize, ok := vs.DeserializerFor(k)
		if !ok {
			continue
		}
		value, err := deserialize([]byte(rec.Value))
		if err != nil {
			return nil, fmt.Errorf("persistence: decode key %q: %w", k.Name(), err)
		}

		var src *pipeline.Source
		if rec.Source != nil {
			if step, ok := p.StepNamed(rec.Source.Step); ok {
				src = &pipeline.Source{StepName: step.Name(), InputHash: rec.Source.InputHash}
			}
		}
		result.RawSet(k, value, src)
	}
	return result, nil
}

// Compact prunes historical entries older than olderThan. latest is never
// touched. Not in spec.md — an explicit retention knob every production
// store with a historical log eventually needs.
func (s *Store) Compact(olderThan time.Time) {
	cutoff := olderThan.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, rec := range s.historical {
		if rec.Timestamp < cutoff {
			delete(s.historical, k)
		}
	}
}

// HistoryFor returns every historical record for (runID, pipelineID,
// varName), sorted oldest-first, for tooling and tests that want to
// inspect the write log rather than just the latest value.
func (s *Store) HistoryFor(runID, pipelineID, varName string) []SerializedVariable {
	prefix := latestKey(runID, pipelineID, varName) + "|"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SerializedVariable
	for k, rec := range s.historical {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
