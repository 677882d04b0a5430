// Package tui renders a live dashboard of one driver's onboarding progress.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/recovery"
	"github.com/johndauphine/onboard-sync/internal/synchronizer"
)

// Source is what the dashboard reads. *synchronizer.Synchronizer satisfies it.
type Source interface {
	GetProgress(ctx context.Context, userID string) (*onboarding.ProgressRecord, error)
	GetStatus(ctx context.Context, userID string) (*onboarding.OnboardingStatus, error)
	FileSlots(ctx context.Context) ([]checkpoint.FileSlot, error)
	TotalSteps() int
}

// TickMsg triggers a periodic refresh.
type TickMsg time.Time

// snapshotMsg carries one refresh result.
type snapshotMsg struct {
	record    *onboarding.ProgressRecord
	status    *onboarding.OnboardingStatus
	statusErr error
	slots     []checkpoint.FileSlot
	err       error
	at        time.Time
}

// Model is the dashboard model.
type Model struct {
	ctx      context.Context
	src      Source
	userID   string
	interval time.Duration

	width int

	overall progress.Model
	slotBar progress.Model

	record    *onboarding.ProgressRecord
	status    *onboarding.OnboardingStatus
	statusErr error
	slots     []checkpoint.FileSlot
	err       error
	updatedAt time.Time
}

// NewModel creates a dashboard for userID that refreshes every interval.
func NewModel(ctx context.Context, src Source, userID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return Model{
		ctx:      ctx,
		src:      src,
		userID:   userID,
		interval: interval,
		overall:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		slotBar:  progress.New(progress.WithSolidFill(string(colorPurple)), progress.WithWidth(20)),
	}
}

// Init loads the first snapshot and starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	ctx, src, userID := m.ctx, m.src, m.userID
	return func() tea.Msg {
		msg := snapshotMsg{at: time.Now()}
		msg.record, msg.err = src.GetProgress(ctx, userID)
		if msg.err != nil && !synchronizer.IsRemoteFailure(msg.err) {
			return msg
		}
		// An unreachable remote store with no local record reads as a fresh start
		msg.err = nil
		// Review status lives only in the remote store; offline is not fatal
		msg.status, msg.statusErr = src.GetStatus(ctx, userID)
		msg.slots, msg.err = src.FileSlots(ctx)
		return msg
	}
}

// Update handles key presses, resizes and refresh results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 30
		if w > 60 {
			w = 60
		}
		if w < 10 {
			w = 10
		}
		m.overall.Width = w
	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())
	case snapshotMsg:
		m.err = msg.err
		m.updatedAt = msg.at
		if msg.err == nil {
			m.record = msg.record
			m.status = msg.status
			m.statusErr = msg.statusErr
			m.slots = msg.slots
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.updatedAt.IsZero() {
		return "\n  Loading onboarding progress..."
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render("Driver onboarding"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(styleError.Render("Error: "+m.err.Error()) + "\n\n")
	}

	if m.record == nil {
		b.WriteString(styleMuted.Render("No saved progress yet. The driver starts at step 1.") + "\n")
	} else {
		b.WriteString(m.stepsView())
		b.WriteString("\n")
		b.WriteString(m.resumeView())
	}

	if len(m.slots) > 0 {
		b.WriteString("\n")
		b.WriteString(m.slotsView())
	}

	body := stylePanel.Render(b.String())
	return body + "\n" + m.statusBarView() + "\n" +
		styleMuted.Render(" r refresh · q quit")
}

func (m Model) totalSteps() int {
	if m.record != nil && m.record.TotalSteps > 0 {
		return m.record.TotalSteps
	}
	return m.src.TotalSteps()
}

func (m Model) stepsView() string {
	rec := m.record
	total := m.totalSteps()

	var lines []string
	for step := 1; step <= total; step++ {
		name := fmt.Sprintf("%d. %s", step, onboarding.StepName(step))
		switch {
		case step == rec.CurrentStep:
			lines = append(lines, styleStepCurrent.Render("▶ "+name))
		case rec.HasCompleted(step):
			lines = append(lines, styleStepDone.Render("✓ "+name))
		default:
			lines = append(lines, styleStepTodo.Render("  "+name))
		}
	}
	bar := fmt.Sprintf("%s %3d%%", m.overall.ViewAs(float64(rec.Progress)/100), rec.Progress)
	return strings.Join(lines, "\n") + "\n\n" + bar + "\n"
}

func (m Model) resumeView() string {
	plan := recovery.Plan(m.record)
	if !plan.ShouldNavigate {
		return styleWarning.Render(fmt.Sprintf("Step %d has no screen; the driver restarts the flow.", plan.Step)) + "\n"
	}
	line := fmt.Sprintf("Resumes at %s", plan.TargetScreen)
	if !m.record.LastSavedAt.IsZero() {
		line += styleMuted.Render(fmt.Sprintf(" (last saved %s)", m.record.LastSavedAt.Local().Format(time.Stamp)))
	}
	return line + "\n"
}

func (m Model) slotsView() string {
	slots := append([]checkpoint.FileSlot(nil), m.slots...)
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Key.String() < slots[j].Key.String()
	})

	width := 0
	for _, s := range slots {
		if n := len(s.Key.String()); n > width {
			width = n
		}
	}

	var lines []string
	for _, s := range slots {
		label := fmt.Sprintf("%-*s", width, s.Key.String())
		state := s.Status
		switch s.Status {
		case checkpoint.SlotCompleted:
			state = styleStepDone.Render(state)
		case checkpoint.SlotFailed:
			state = styleError.Render(state)
		default:
			state = styleWarning.Render(state)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", label, m.slotBar.ViewAs(float64(s.Progress)/100), state))
	}
	return "Uploads\n" + strings.Join(lines, "\n") + "\n"
}

func (m Model) statusBarView() string {
	w := lipgloss.Width

	user := styleStatusUser.Render(m.userID)

	review := "status unavailable"
	if m.status != nil {
		review = "review: " + string(m.status.Status)
	} else if m.statusErr != nil {
		review = "review: offline"
	}
	reviewBlock := styleStatusReview.Render(review)

	syncBlock := ""
	if m.record != nil {
		if m.record.SyncStatus == onboarding.SyncSynced {
			syncBlock = styleStatusSynced.Render("synced")
		} else {
			syncBlock = styleStatusPending.Render(string(m.record.SyncStatus))
		}
	}

	usedWidth := w(user) + w(reviewBlock) + w(syncBlock)
	spacerWidth := m.width - usedWidth
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	spacer := styleStatusBar.Width(spacerWidth).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, user, reviewBlock, spacer, syncBlock)
}

// Start runs the dashboard until the user quits or ctx is done.
func Start(ctx context.Context, src Source, userID string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(ctx, src, userID, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
