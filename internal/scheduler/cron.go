package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"

	"github.com/dohr-michael/steward/internal/tasks"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronExpr wraps a parsed cron schedule.
type CronExpr struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard 5-field expression or a descriptor like @daily.
func ParseCron(expr string) (*CronExpr, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronExpr{raw: expr, schedule: schedule}, nil
}

// Next returns the next activation time after t.
func (c *CronExpr) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// String returns the raw cron expression.
func (c *CronExpr) String() string {
	return c.raw
}

// ScheduledTag marks every task a schedule creates.
const ScheduledTag = "scheduled"

// Recurring describes a task created on a schedule.
type Recurring struct {
	Cron        string   `json:"cron"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Creator is the producer surface recurring tasks are created through.
type Creator interface {
	Create(ctx context.Context, in tasks.NewTask) (*tasks.Task, error)
}

// Producers creates NEW tasks on cron schedules.
type Producers struct {
	cron    *cron.Cron
	creator Creator
	entries []Recurring
}

// NewProducers validates every schedule up front.
func NewProducers(creator Creator, entries []Recurring) (*Producers, error) {
	p := &Producers{
		cron:    cron.New(cron.WithParser(cronParser)),
		creator: creator,
		entries: entries,
	}
	for _, e := range entries {
		if e.Title == "" {
			return nil, fmt.Errorf("schedule %q: title is required", e.Cron)
		}
		if _, err := ParseCron(e.Cron); err != nil {
			return nil, err
		}
		if _, err := p.cron.AddFunc(e.Cron, p.fire(e)); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Cron, err)
		}
	}
	return p, nil
}

func (p *Producers) fire(e Recurring) func() {
	return func() {
		t, err := p.creator.Create(context.Background(), tasks.NewTask{
			Title:       e.Title,
			Description: e.Description,
			Tags:        append([]string{ScheduledTag}, e.Tags...),
		})
		if err != nil {
			slog.Error("scheduled task", "cron", e.Cron, "title", e.Title, "error", err)
			return
		}
		slog.Info("scheduled task created", "cron", e.Cron, "task_id", t.ID)
	}
}

// Len returns the number of schedules.
func (p *Producers) Len() int { return len(p.entries) }

// Run fires schedules until ctx is cancelled, then waits for running jobs.
func (p *Producers) Run(ctx context.Context) error {
	if len(p.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	slog.Info("recurring producers started", "schedules", len(p.entries))
	p.cron.Start()
	<-ctx.Done()
	<-p.cron.Stop().Done()
	return nil
}
