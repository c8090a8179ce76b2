// Package orchestrate drives an apply run: it orders change groups, locates
// their candidate files, and feeds them to the rewriter. Groups whose file
// sets do not overlap run concurrently; groups sharing a file never do.
package orchestrate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"fieldmv/internal/locate"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
	"fieldmv/internal/rewrite"
)

// Summary aggregates the outcome of one apply run.
type Summary struct {
	GroupsProcessed int
	GroupsHalted    int
	FilesChanged    int
	FilesUnchanged  int
	FilesSkipped    int
	FilesFailed     int
	Results         []rewrite.ProcessResult
}

func (s *Summary) add(res rewrite.ProcessResult) {
	s.Results = append(s.Results, res)
	switch res.Status {
	case rewrite.StatusSuccess:
		s.FilesChanged++
	case rewrite.StatusNoChanges:
		s.FilesUnchanged++
	case rewrite.StatusSkipped:
		s.FilesSkipped++
	case rewrite.StatusError:
		s.FilesFailed++
	}
}

// Orchestrator applies grouped change records to a source tree.
type Orchestrator struct {
	locator  *locate.Locator
	rewriter *rewrite.Rewriter
	workers  int
	logger   *logging.Logger
}

// New creates an orchestrator. workers bounds how many groups rewrite
// concurrently; values below 1 mean serial.
func New(locator *locate.Locator, rewriter *rewrite.Rewriter, workers int, logger *logging.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{locator: locator, rewriter: rewriter, workers: workers, logger: logger}
}

// groupJob is one group with its located files.
type groupJob struct {
	id    string
	group *records.ChangeGroup
	files *locate.FileSet
}

// Apply processes every group. A failure inside one group halts that group
// and moves on; only locator failures abort the whole run.
func (o *Orchestrator) Apply(ctx context.Context, groups map[string]*records.ChangeGroup, dryRun bool) (*Summary, error) {
	jobs := make([]groupJob, 0, len(groups))
	for _, id := range records.SortedGroupIDs(groups) {
		g := groups[id]
		files, err := o.locator.FilesForGroup(g)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, groupJob{id: id, group: g, files: files})
	}

	summary := &Summary{}
	var mu sync.Mutex

	for _, wave := range partitionByOverlap(jobs) {
		eg, waveCtx := errgroup.WithContext(ctx)
		eg.SetLimit(o.workers)

		for _, job := range wave {
			job := job
			eg.Go(func() error {
				results, halted := o.processGroup(waveCtx, job, dryRun)
				mu.Lock()
				defer mu.Unlock()
				summary.GroupsProcessed++
				if halted {
					summary.GroupsHalted++
				}
				for _, res := range results {
					summary.add(res)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// processGroup rewrites one group's files in order: source files first so
// declarations land before references, markup last. A source-file failure
// halts the group; later files would reference names the tree does not
// carry. Markup failures are reported but do not halt.
func (o *Orchestrator) processGroup(ctx context.Context, job groupJob, dryRun bool) ([]rewrite.ProcessResult, bool) {
	var results []rewrite.ProcessResult

	for _, path := range job.files.Source {
		res := o.rewriter.ProcessFile(ctx, path, records.SourceFile, job.group, dryRun)
		results = append(results, res)
		if res.Status == rewrite.StatusError {
			o.logger.Error("halting group after source failure", map[string]interface{}{
				"group": job.id,
				"file":  path,
				"error": res.Err.Error(),
			})
			return results, true
		}
	}

	for _, path := range job.files.Markup {
		res := o.rewriter.ProcessFile(ctx, path, records.MarkupFile, job.group, dryRun)
		results = append(results, res)
		if res.Status == rewrite.StatusError {
			o.logger.Warn("markup rewrite failed", map[string]interface{}{
				"group": job.id,
				"file":  path,
				"error": res.Err.Error(),
			})
		}
	}

	return results, false
}

// partitionByOverlap splits jobs into waves such that no two jobs in a wave
// touch the same file. A job is placed in the wave after the last one
// holding a job it overlaps with, so a shared file is always written in
// the incoming group order.
func partitionByOverlap(jobs []groupJob) [][]groupJob {
	var waves [][]groupJob
	var waveFiles []map[string]bool

	for _, job := range jobs {
		target := 0
		for i := range waves {
			if overlaps(waveFiles[i], job.files) {
				target = i + 1
			}
		}
		if target == len(waves) {
			waves = append(waves, nil)
			waveFiles = append(waveFiles, make(map[string]bool))
		}
		waves[target] = append(waves[target], job)
		claim(waveFiles[target], job.files)
	}
	return waves
}

func overlaps(claimed map[string]bool, files *locate.FileSet) bool {
	for _, p := range files.Source {
		if claimed[p] {
			return true
		}
	}
	for _, p := range files.Markup {
		if claimed[p] {
			return true
		}
	}
	return false
}

func claim(claimed map[string]bool, files *locate.FileSet) {
	for _, p := range files.Source {
		claimed[p] = true
	}
	for _, p := range files.Markup {
		claimed[p] = true
	}
}
