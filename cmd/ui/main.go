package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gioui.org/app"
	"gioui.org/font"
	"gioui.org/font/gofont"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"go.uber.org/zap"

	"calm-todo/internal/client"
	"calm-todo/internal/config"
	"calm-todo/internal/logging"
	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/task"
)

var theme *material.Theme

const (
	pageToday = iota
	pageOverdue
	pageProjects
	pageStats
)

var (
	grey   = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
	green  = color.NRGBA{R: 0x00, G: 0xC0, B: 0x00, A: 0xFF}
	orange = color.NRGBA{R: 0xFF, G: 0xA0, B: 0x00, A: 0xFF}
	red    = color.NRGBA{R: 0xFF, G: 0x40, B: 0x40, A: 0xFF}
)

type UI struct {
	api    *client.Client
	log    *zap.Logger
	window *app.Window

	currentPage int

	navToday    widget.Clickable
	navOverdue  widget.Clickable
	navProjects widget.Clickable
	navStats    widget.Clickable

	// Today
	todayList     widget.List
	newTaskEditor widget.Editor
	createTaskBtn widget.Clickable

	overdueList widget.List

	// Projects
	projectList  widget.List
	projectBtns  []widget.Clickable
	selectedProj string
	projTaskList widget.List

	// Toggle buttons keyed by task id so they survive list refreshes.
	toggles map[string]*widget.Clickable

	mu           sync.Mutex
	today        []task.Task
	overdue      []task.Task
	projects     []task.Project
	projectTasks []task.Task
	stats        client.Stats
	lastErr      string
}

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	base := cfg.Server.URL
	if env := os.Getenv("API_BASE"); env != "" {
		base = env
	}
	api := client.New(base, nil)
	api.SetTimezone(cfg.User.Timezone)
	if tok := os.Getenv("CALMTODO_TOKEN"); tok != "" {
		api.SetToken(tok)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, err := api.SignIn(ctx, cfg.User.Name, cfg.User.Email, cfg.User.Password)
		cancel()
		if err != nil {
			os.Exit(logging.Fail(log.With(zap.String("api", base)), "sign in", err))
		}
	}

	theme = material.NewTheme()
	theme.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))
	theme.Palette.Bg = color.NRGBA{R: 0x12, G: 0x12, B: 0x12, A: 0xFF}
	theme.Palette.Fg = color.NRGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	theme.Palette.ContrastBg = color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xFF}
	theme.Palette.ContrastFg = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

	ui := &UI{api: api, log: log, toggles: map[string]*widget.Clickable{}}
	ui.todayList.Axis = layout.Vertical
	ui.overdueList.Axis = layout.Vertical
	ui.projectList.Axis = layout.Vertical
	ui.projTaskList.Axis = layout.Vertical
	ui.newTaskEditor.SingleLine = true
	ui.newTaskEditor.Submit = true

	ui.window = new(app.Window)
	ui.window.Option(app.Title("calm-todo"))
	ui.window.Option(app.Size(unit.Dp(900), unit.Dp(700)))

	go ui.pollData()

	go func() {
		if err := ui.run(ui.window); err != nil {
			os.Exit(logging.Fail(log, "window", err))
		}
		_ = log.Sync()
		os.Exit(0)
	}()
	app.Main()
}

func (ui *UI) run(w *app.Window) error {
	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			ui.mu.Lock()
			ui.handleClicks(gtx)
			ui.layout(gtx)
			ui.mu.Unlock()
			e.Frame(gtx.Ops)
		}
	}
}

// handleClicks runs with ui.mu held.
func (ui *UI) handleClicks(gtx layout.Context) {
	if ui.navToday.Clicked(gtx) {
		ui.currentPage = pageToday
	}
	if ui.navOverdue.Clicked(gtx) {
		ui.currentPage = pageOverdue
	}
	if ui.navProjects.Clicked(gtx) {
		ui.currentPage = pageProjects
	}
	if ui.navStats.Clicked(gtx) {
		ui.currentPage = pageStats
	}

	submitted := false
	for {
		ev, ok := ui.newTaskEditor.Update(gtx)
		if !ok {
			break
		}
		if _, ok := ev.(widget.SubmitEvent); ok {
			submitted = true
		}
	}
	if ui.createTaskBtn.Clicked(gtx) || submitted {
		if title := strings.TrimSpace(ui.newTaskEditor.Text()); title != "" {
			go ui.createTask(title)
			ui.newTaskEditor.SetText("")
		}
	}

	for i := range ui.projectBtns {
		if i < len(ui.projects) && ui.projectBtns[i].Clicked(gtx) {
			ui.selectedProj = ui.projects[i].ID
			ui.projectTasks = nil
			go ui.fetchProjectTasks(ui.selectedProj)
		}
	}

	for id, btn := range ui.toggles {
		if btn.Clicked(gtx) {
			go ui.toggleTask(id)
		}
	}
}

func (ui *UI) toggle(id string) *widget.Clickable {
	btn, ok := ui.toggles[id]
	if !ok {
		btn = new(widget.Clickable)
		ui.toggles[id] = btn
	}
	return btn
}

func (ui *UI) layout(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return ui.layoutNav(gtx)
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return layout.UniformInset(unit.Dp(16)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				switch ui.currentPage {
				case pageOverdue:
					return ui.layoutOverdue(gtx)
				case pageProjects:
					return ui.layoutProjects(gtx)
				case pageStats:
					return ui.layoutStats(gtx)
				default:
					return ui.layoutToday(gtx)
				}
			})
		}),
	)
}

func (ui *UI) layoutNav(gtx layout.Context) layout.Dimensions {
	gtx.Constraints.Min.X = gtx.Dp(unit.Dp(160))
	gtx.Constraints.Max.X = gtx.Dp(unit.Dp(160))
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return layout.Inset{Top: unit.Dp(16), Bottom: unit.Dp(16), Left: unit.Dp(12)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				label := material.H6(theme, "calm-todo")
				label.Color = theme.Palette.ContrastFg
				return label.Layout(gtx)
			})
		}),
		layout.Rigid(navBtn(theme, &ui.navToday, fmt.Sprintf("Today (%d)", len(ui.today)), ui.currentPage == pageToday)),
		layout.Rigid(navBtn(theme, &ui.navOverdue, fmt.Sprintf("Overdue (%d)", len(ui.overdue)), ui.currentPage == pageOverdue)),
		layout.Rigid(navBtn(theme, &ui.navProjects, "Projects", ui.currentPage == pageProjects)),
		layout.Rigid(navBtn(theme, &ui.navStats, "Stats", ui.currentPage == pageStats)),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if ui.lastErr == "" {
				return layout.Dimensions{}
			}
			return layout.UniformInset(unit.Dp(12)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				label := material.Caption(theme, ui.lastErr)
				label.Color = red
				return label.Layout(gtx)
			})
		}),
	)
}

func navBtn(th *material.Theme, btn *widget.Clickable, label string, active bool) layout.Widget {
	return func(gtx layout.Context) layout.Dimensions {
		return layout.Inset{Top: unit.Dp(2), Bottom: unit.Dp(2), Left: unit.Dp(8), Right: unit.Dp(8)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			b := material.Button(th, btn, label)
			if active {
				b.Background = th.Palette.ContrastBg
			} else {
				b.Background = color.NRGBA{A: 0}
			}
			b.Color = th.Palette.Fg
			return b.Layout(gtx)
		})
	}
}

func heading(title string) layout.FlexChild {
	return layout.Rigid(func(gtx layout.Context) layout.Dimensions {
		return material.H5(theme, title).Layout(gtx)
	})
}

func (ui *UI) layoutToday(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		heading("Today"),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{}.Layout(gtx,
				layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
					return material.Editor(theme, &ui.newTaskEditor, "Add a task for today...").Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					return material.Button(theme, &ui.createTaskBtn, "Add").Layout(gtx)
				}),
			)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return ui.layoutTaskList(gtx, &ui.todayList, ui.today, "Nothing due today.")
		}),
	)
}

func (ui *UI) layoutOverdue(gtx layout.Context) layout.Dimensions {
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		heading("Overdue"),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			return ui.layoutTaskList(gtx, &ui.overdueList, ui.overdue, "All caught up.")
		}),
	)
}

func (ui *UI) layoutProjects(gtx layout.Context) layout.Dimensions {
	for len(ui.projectBtns) < len(ui.projects) {
		ui.projectBtns = append(ui.projectBtns, widget.Clickable{})
	}
	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			gtx.Constraints.Max.X = gtx.Dp(unit.Dp(220))
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				heading("Projects"),
				layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
				layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
					return material.List(theme, &ui.projectList).Layout(gtx, len(ui.projects), func(gtx layout.Context, i int) layout.Dimensions {
						p := ui.projects[i]
						b := material.Button(theme, &ui.projectBtns[i], p.Name)
						b.Background = parseHex(p.Color)
						if p.ID != ui.selectedProj {
							b.Background.A = 0x60
						}
						return layout.Inset{Bottom: unit.Dp(4)}.Layout(gtx, b.Layout)
					})
				}),
			)
		}),
		layout.Rigid(layout.Spacer{Width: unit.Dp(16)}.Layout),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			if ui.selectedProj == "" {
				return material.Body1(theme, "Pick a project.").Layout(gtx)
			}
			return ui.layoutTaskList(gtx, &ui.projTaskList, ui.projectTasks, "No tasks in this project.")
		}),
	)
}

func (ui *UI) layoutStats(gtx layout.Context) layout.Dimensions {
	s := ui.stats
	children := []layout.FlexChild{
		heading("Stats"),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Rigid(material.Body1(theme, fmt.Sprintf("Today: %d of %d done", s.Today.Completed, s.Today.Total)).Layout),
		layout.Rigid(material.Body1(theme, fmt.Sprintf("Streak: %d days", s.Streak)).Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Rigid(material.H6(theme, "Last 7 days").Layout),
	}
	for _, d := range s.Weekly {
		children = append(children, layout.Rigid(material.Body2(theme, weeklyBar(d)).Layout))
	}
	return layout.Flex{Axis: layout.Vertical, Spacing: layout.SpaceEnd}.Layout(gtx, children...)
}

func weeklyBar(d aggregate.DayActivity) string {
	return fmt.Sprintf("%-4s %s %d", d.Label, strings.Repeat("#", d.Count), d.Count)
}

func (ui *UI) layoutTaskList(gtx layout.Context, list *widget.List, tasks []task.Task, empty string) layout.Dimensions {
	if len(tasks) == 0 {
		label := material.Body1(theme, empty)
		label.Color = grey
		return label.Layout(gtx)
	}
	return material.List(theme, list).Layout(gtx, len(tasks), func(gtx layout.Context, i int) layout.Dimensions {
		t := tasks[i]
		return layout.Inset{Bottom: unit.Dp(6)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					mark := "[ ]"
					if t.Done() {
						mark = "[x]"
					}
					b := material.Button(theme, ui.toggle(t.ID), mark)
					b.Background = color.NRGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xFF}
					return b.Layout(gtx)
				}),
				layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
				layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
					return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
						layout.Rigid(func(gtx layout.Context) layout.Dimensions {
							label := material.Body2(theme, t.Title)
							label.Font.Weight = font.Bold
							if t.Done() {
								label.Color = grey
							}
							return label.Layout(gtx)
						}),
						layout.Rigid(func(gtx layout.Context) layout.Dimensions {
							label := material.Caption(theme, caption(t))
							label.Color = priorityColor(t.Priority)
							return label.Layout(gtx)
						}),
					)
				}),
			)
		})
	})
}

func caption(t task.Task) string {
	parts := []string{string(t.Priority)}
	if t.DueDate != nil {
		parts = append(parts, "due "+t.DueDate.Local().Format("Mon Jan 2 15:04"))
	}
	if len(t.Tags) > 0 {
		parts = append(parts, "#"+strings.Join(t.Tags, " #"))
	}
	return strings.Join(parts, " · ")
}

func priorityColor(p task.Priority) color.NRGBA {
	switch p {
	case task.High:
		return red
	case task.Low:
		return green
	default:
		return orange
	}
}

// parseHex reads #rrggbb, falling back to the theme accent.
func parseHex(s string) color.NRGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil || len(s) != 7 {
		return theme.Palette.ContrastBg
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}

// Data fetching

func (ui *UI) pollData() {
	ui.fetchAll()
	ticker := time.NewTicker(5 * time.Second)
	for range ticker.C {
		ui.fetchAll()
	}
}

func (ui *UI) fetchAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	today, err := ui.api.Today(ctx)
	if err != nil {
		ui.fail("fetch today", err)
		return
	}
	overdue, err := ui.api.Overdue(ctx)
	if err != nil {
		ui.fail("fetch overdue", err)
		return
	}
	projects, err := ui.api.Projects(ctx)
	if err != nil {
		ui.fail("fetch projects", err)
		return
	}
	stats, err := ui.api.Stats(ctx)
	if err != nil {
		ui.fail("fetch stats", err)
		return
	}

	ui.mu.Lock()
	ui.today, ui.overdue, ui.projects, ui.stats = today, overdue, projects, stats
	ui.lastErr = ""
	selected := ui.selectedProj
	ui.mu.Unlock()

	if selected != "" {
		ui.fetchProjectTasks(selected)
	}
	ui.window.Invalidate()
}

func (ui *UI) fetchProjectTasks(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tasks, err := ui.api.ProjectTasks(ctx, id)
	if err != nil {
		ui.fail("fetch project tasks", err)
		return
	}
	ui.mu.Lock()
	if ui.selectedProj == id {
		ui.projectTasks = tasks
	}
	ui.mu.Unlock()
	ui.window.Invalidate()
}

func (ui *UI) createTask(title string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := ui.api.CreateTask(ctx, task.Input{Title: title}); err != nil {
		ui.fail("create task", err)
		return
	}
	ui.fetchAll()
}

func (ui *UI) toggleTask(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := ui.api.Toggle(ctx, id); err != nil {
		ui.fail("toggle task", err)
		return
	}
	ui.fetchAll()
}

func (ui *UI) fail(what string, err error) {
	ui.log.Warn(what, zap.Error(err))
	ui.mu.Lock()
	ui.lastErr = what + ": " + err.Error()
	ui.mu.Unlock()
	ui.window.Invalidate()
}
