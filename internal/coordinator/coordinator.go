// Package coordinator implements the StateCoordinator: the only
// component allowed to mutate epics, stories, ceremonies, action items,
// and learnings. Every mutating operation pairs its SQL writes with a
// GitGateway commit of the artifacts the operation produced, following
// the atomicity protocol: the SQL writes and the artifact commit either
// both land or neither does.
package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gao-dev/gaodev/internal/gitgw"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/store"
)

// Store is the persistence surface the coordinator needs from
// internal/store, narrowed to an interface so tests can substitute a fake
// without spinning up SQLite.
type Store interface {
	Begin() (*store.Tx, error)
	Commit(tx *store.Tx) error
	Rollback(tx *store.Tx) error

	CreateEpic(tx *store.Tx, e model.Epic) (model.Epic, error)
	GetEpic(project string, epicNum int) (model.Epic, error)
	UpdateEpicProgress(tx *store.Tx, project string, epicNum, storiesCompleted int, status model.EpicStatus, completedAt *time.Time) error

	CreateStory(tx *store.Tx, st model.Story, project string) error
	GetStory(project string, epicNum, storyNum int) (model.Story, error)
	ListStoriesTx(tx *store.Tx, project string, epicNum int) ([]model.Story, error)
	UpdateStoryStatus(tx *store.Tx, project string, epicNum, storyNum int, status model.StoryStatus, rework bool, cycleTimeSeconds int64, gates model.QualityGates, cost model.AgentCost) error

	RecordCeremony(tx *store.Tx, project string, c model.Ceremony) (id int64, inserted bool, err error)
	SetCeremonyCommit(tx *store.Tx, id int64, sha string) error
	CeremoniesWithoutCommit(project string) ([]model.Ceremony, error)
	DeleteCeremony(tx *store.Tx, id int64) error

	CreateActionItem(tx *store.Tx, project string, a model.ActionItem) (int64, error)
	OpenActionItems(project string, epicNum int) ([]model.ActionItem, error)
	PromotionCandidates(project string, epicNum int) ([]model.ActionItem, error)
	ExpireStaleActionItems(tx *store.Tx, project string, now time.Time) (int64, error)

	CreateLearning(tx *store.Tx, project string, l model.Learning) (int64, error)
	GetLearning(id int64) (model.Learning, error)
	RecordLearningApplication(tx *store.Tx, project string, a model.LearningApplication) error
}

// Git is the working-tree surface the coordinator needs from
// internal/gitgw.
type Git interface {
	Stage(paths ...string) error
	Commit(message, authorName, authorEmail string, coAuthors []gitgw.CoAuthor) (string, error)
	ResetHard(ref string) error
}

// Identity is the commit author attached to every coordinator-driven
// commit.
type Identity struct {
	Name  string
	Email string
}

// Coordinator is the StateCoordinator implementation.
type Coordinator struct {
	store     Store
	git       Git
	workspace string
	project   string
	identity  Identity
}

// New constructs a Coordinator bound to a project's store, git gateway,
// working tree root, and commit author identity.
func New(s Store, g Git, workspace, project string, identity Identity) *Coordinator {
	return &Coordinator{store: s, git: g, workspace: workspace, project: project, identity: identity}
}

// writeArtifacts materializes artifacts under the workspace root for
// staging; paths are relative to workspace.
func (c *Coordinator) writeArtifacts(artifacts []model.Artifact) error {
	for _, a := range artifacts {
		full := filepath.Join(c.workspace, a.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create artifact directory for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(full, a.Bytes, 0o644); err != nil {
			return fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
	}
	return nil
}

// commitArtifacts writes the operation's artifacts, stages exactly those
// paths, and commits them with message, returning the commit sha. Only
// the named paths are staged, never the whole workspace, so orchestrator
// state under .gao-dev/ and unrelated agent scratch files stay out of the
// user's history. A validation failure in the commit grammar or a
// git-level error is returned to the caller unchanged so the calling
// mutating operation can decide how to unwind its SQL state.
func (c *Coordinator) commitArtifacts(artifacts []model.Artifact, message string) (string, error) {
	if err := c.writeArtifacts(artifacts); err != nil {
		return "", err
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}
	if err := c.git.Stage(paths...); err != nil {
		return "", model.Transient("E029", "stage artifacts", err)
	}
	return c.git.Commit(message, c.identity.Name, c.identity.Email, nil)
}

// CreateEpic inserts a new epic and commits its initializing artifacts
// with message `docs(<feature>): initialize epic <n> (Level <k>)`. A call
// with no artifacts gets a PRD skeleton so the epic-init commit always
// carries the feature's document root. totalStories is the epic's
// declared story count (0 for a scale 0/1 single-story run that never
// tracks an epic row's story total at all).
//
// The SQL writes and the git commit land together or not at all: the row
// is written inside an open transaction, the commit is made, and only
// then is the transaction committed — a git failure rolls back the row,
// and a transaction-commit failure resets the just-made commit.
func (c *Coordinator) CreateEpic(epicNum int, feature string, scale int, totalStories int, artifacts []model.Artifact, now time.Time) (model.Epic, error) {
	epic := model.Epic{
		EpicNum: epicNum, Project: c.project, FeatureName: feature, ScaleLevel: scale,
		Status: model.EpicPlanned, TotalStories: totalStories, StoriesCompleted: 0, CreatedAt: now,
	}
	if len(artifacts) == 0 {
		artifacts = []model.Artifact{{
			Path:  fmt.Sprintf("docs/features/%s/PRD.md", feature),
			Bytes: []byte(fmt.Sprintf("# %s\n\nStatus: draft\n", feature)),
		}}
	}

	tx, err := c.store.Begin()
	if err != nil {
		return model.Epic{}, err
	}
	created, err := c.store.CreateEpic(tx, epic)
	if err != nil {
		c.store.Rollback(tx)
		return model.Epic{}, err
	}

	message := fmt.Sprintf("docs(%s): initialize epic %d (Level %d)", feature, epicNum, scale)
	if _, err := c.commitArtifacts(artifacts, message); err != nil {
		c.store.Rollback(tx)
		return model.Epic{}, err
	}
	if err := c.store.Commit(tx); err != nil {
		c.git.ResetHard("HEAD^")
		return model.Epic{}, err
	}
	return created, nil
}

// AdvanceStoryParams describes a single story-status transition plus the
// artifacts the agent produced while making it.
type AdvanceStoryParams struct {
	EpicNum          int
	StoryNum         int
	Title            string
	NewStatus        model.StoryStatus
	Rework           bool
	CycleTimeSeconds int64
	QualityGates     model.QualityGates
	Cost             model.AgentCost
	Artifacts        []model.Artifact
	ScaleLevel       int
	Now              time.Time
}

// AdvanceStory writes the story's new status and stages/commits its
// artifacts as `feat(<scope>): story <e>.<s> - <title>`, or `fix` at scale
// level 1 where the base sequence is a bugfix rather than a feature.
// When the transition completes the last outstanding story, the owning
// epic's status and stories_completed counters advance in the same
// transaction. The SQL transaction commits only after the git commit
// succeeds; either failure unwinds the other side.
func (c *Coordinator) AdvanceStory(p AdvanceStoryParams) error {
	tx, err := c.store.Begin()
	if err != nil {
		return err
	}

	if _, err := c.store.GetStory(c.project, p.EpicNum, p.StoryNum); err != nil {
		if derr, ok := err.(*model.Error); ok && derr.Code == "E013" {
			if err := c.store.CreateStory(tx, model.Story{
				EpicNum: p.EpicNum, StoryNum: p.StoryNum, Title: p.Title,
				Status: model.StoryDraft, QualityGatesPassed: model.GatesUnknown,
			}, c.project); err != nil {
				c.store.Rollback(tx)
				return err
			}
		} else {
			c.store.Rollback(tx)
			return err
		}
	}

	if err := c.store.UpdateStoryStatus(tx, c.project, p.EpicNum, p.StoryNum, p.NewStatus, p.Rework, p.CycleTimeSeconds, p.QualityGates, p.Cost); err != nil {
		c.store.Rollback(tx)
		return err
	}

	if p.NewStatus.Terminal() {
		if err := c.advanceEpicCounters(tx, p.EpicNum, p.Now); err != nil {
			c.store.Rollback(tx)
			return err
		}
	}

	commitType := "feat"
	if p.ScaleLevel == 1 {
		commitType = "fix"
	}
	message := fmt.Sprintf("%s(%s.%d): story %d.%d - %s", commitType, c.project, p.EpicNum, p.EpicNum, p.StoryNum, p.Title)
	if _, err := c.commitArtifacts(p.Artifacts, message); err != nil {
		c.store.Rollback(tx)
		return err
	}
	if err := c.store.Commit(tx); err != nil {
		c.git.ResetHard("HEAD^")
		return err
	}
	return nil
}

// advanceEpicCounters recomputes stories_completed from the terminal
// stories under the epic and flips status to completed once every story
// is terminal, enforcing the data-model invariant that a zero-story epic
// never auto-completes. Stories are read through the open transaction so
// the status update made just before this call is counted.
func (c *Coordinator) advanceEpicCounters(tx *store.Tx, epicNum int, now time.Time) error {
	stories, err := c.store.ListStoriesTx(tx, c.project, epicNum)
	if err != nil {
		return err
	}
	completed := 0
	allTerminal := len(stories) > 0
	for _, st := range stories {
		if st.Status.Terminal() {
			completed++
		} else {
			allTerminal = false
		}
	}
	status := model.EpicActive
	var completedAt *time.Time
	if allTerminal {
		status = model.EpicCompleted
		t := now
		completedAt = &t
	}
	return c.store.UpdateEpicProgress(tx, c.project, epicNum, completed, status, completedAt)
}

// RecordCeremonyParams bundles a ceremony's structured result.
type RecordCeremonyParams struct {
	Type           model.CeremonyType
	EpicNum        int
	StoryNum       *int
	Phase          string
	HeldAt         time.Time
	DurationMS     int64
	Participants   []string
	Transcript     string
	Summary        string
	Outcome        model.Outcome
	IdempotencyKey string
	Cost           model.AgentCost
	ActionItems    []model.ActionItem
	Learnings      []model.Learning
	FeatureName    string
}

// RecordCeremony persists the ceremony, its action items, and its
// learnings, then commits a single composite artifact at
// `docs/features/<feature>/ceremonies/<type>-<timestamp>.md`. A repeated
// call with the same idempotency key returns the first call's ceremony id
// and performs no new write or commit. The row, its children, and the
// commit sha stamp all share one transaction, committed only after the
// git commit succeeds; a git failure rolls everything back and a
// transaction-commit failure resets the just-made commit.
func (c *Coordinator) RecordCeremony(p RecordCeremonyParams) (model.Ceremony, error) {
	ceremony := model.Ceremony{
		EpicNum: p.EpicNum, StoryNum: p.StoryNum, Type: p.Type, Phase: p.Phase,
		HeldAt: p.HeldAt, DurationMS: p.DurationMS, Participants: p.Participants,
		Transcript: p.Transcript, Summary: p.Summary, Outcome: p.Outcome,
		IdempotencyKey: p.IdempotencyKey, Cost: p.Cost,
	}

	tx, err := c.store.Begin()
	if err != nil {
		return model.Ceremony{}, err
	}
	id, inserted, err := c.store.RecordCeremony(tx, c.project, ceremony)
	if err != nil {
		c.store.Rollback(tx)
		return model.Ceremony{}, err
	}
	if !inserted {
		c.store.Rollback(tx)
		ceremony.ID = id
		return ceremony, nil
	}

	for _, a := range p.ActionItems {
		a.CeremonyID = id
		if _, err := c.store.CreateActionItem(tx, c.project, a); err != nil {
			c.store.Rollback(tx)
			return model.Ceremony{}, err
		}
	}
	for _, l := range p.Learnings {
		if _, err := c.store.CreateLearning(tx, c.project, l); err != nil {
			c.store.Rollback(tx)
			return model.Ceremony{}, err
		}
	}

	artifactPath := fmt.Sprintf("docs/features/%s/ceremonies/%s-%s.md", p.FeatureName, p.Type, p.HeldAt.UTC().Format("20060102T150405Z"))
	message := fmt.Sprintf("docs(%s): %s ceremony for epic %d", p.FeatureName, p.Type, p.EpicNum)
	sha, err := c.commitArtifacts([]model.Artifact{{Path: artifactPath, Bytes: []byte(ceremonyArtifact(p))}}, message)
	if err != nil {
		c.store.Rollback(tx)
		return model.Ceremony{}, err
	}
	if err := c.store.SetCeremonyCommit(tx, id, sha); err != nil {
		c.store.Rollback(tx)
		c.git.ResetHard("HEAD^")
		return model.Ceremony{}, err
	}
	if err := c.store.Commit(tx); err != nil {
		c.git.ResetHard("HEAD^")
		return model.Ceremony{}, err
	}
	ceremony.ID = id
	return ceremony, nil
}

func ceremonyArtifact(p RecordCeremonyParams) string {
	out := fmt.Sprintf("# %s ceremony — epic %d\n\n%s\n\n## Summary\n\n%s\n", p.Type, p.EpicNum, p.Transcript, p.Summary)
	return out
}

// ApplyLearning appends a LearningApplication row and lets the store
// recompute application_count/success_rate/confidence_score. This writes
// metadata only, visible on the next query; nothing is committed to git.
func (c *Coordinator) ApplyLearning(learningID int64, epicNum int, storyNum *int, outcome model.Outcome, context string, now time.Time) error {
	tx, err := c.store.Begin()
	if err != nil {
		return err
	}
	if err := c.store.RecordLearningApplication(tx, c.project, model.LearningApplication{
		LearningID: learningID, EpicNum: epicNum, StoryNum: storyNum, Outcome: outcome, AppliedAt: now, Context: context,
	}); err != nil {
		c.store.Rollback(tx)
		return err
	}
	return c.store.Commit(tx)
}

// ExpireStaleActionItems batch-marks open low- and medium-priority items
// older than the action item TTL as expired. Calling it twice for the same "now" is a no-op the
// second time, since only rows still open match.
func (c *Coordinator) ExpireStaleActionItems(now time.Time) (int64, error) {
	tx, err := c.store.Begin()
	if err != nil {
		return 0, err
	}
	n, err := c.store.ExpireStaleActionItems(tx, c.project, now)
	if err != nil {
		c.store.Rollback(tx)
		return 0, err
	}
	if err := c.store.Commit(tx); err != nil {
		return 0, err
	}
	return n, nil
}

// PromotionCandidates returns open action items eligible to become
// candidate stories on the next planning step.
func (c *Coordinator) PromotionCandidates(epicNum int) ([]model.ActionItem, error) {
	return c.store.PromotionCandidates(c.project, epicNum)
}

// Reconcile restores the one-commit-per-mutation pairing after an unclean
// shutdown: it removes ceremony rows that carry no commit sha. The write
// path stamps the sha inside the same transaction as the row, so such
// rows only exist in a database written by an interrupted earlier
// protocol or edited outside the coordinator; removing them keeps every
// surviving row paired with its commit.
func (c *Coordinator) Reconcile() (int, error) {
	orphans, err := c.store.CeremoniesWithoutCommit(c.project)
	if err != nil {
		return 0, err
	}
	for _, o := range orphans {
		tx, err := c.store.Begin()
		if err != nil {
			return 0, err
		}
		if err := c.store.DeleteCeremony(tx, o.ID); err != nil {
			c.store.Rollback(tx)
			return 0, err
		}
		if err := c.store.Commit(tx); err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}
