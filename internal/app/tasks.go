package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/ui/chat"
	"github.com/rapidworks/expertdesk/internal/ui/command"
	"github.com/rapidworks/expertdesk/internal/ui/taskform"
)

// commandTimeout bounds store calls started from the command palette.
const commandTimeout = 15 * time.Second

// taskCreatedMsg is sent after a task request is persisted.
type taskCreatedMsg struct {
	id  string
	err error
}

// flashMsg is a one-off notice shown in the status bar until the next key.
type flashMsg string

// createTask uploads the selected attachments and stores the request.
func (m *Model) createTask(msg taskform.SubmittedMsg) tea.Cmd {
	svc, p := m.svc, m.principal
	return func() tea.Msg {
		uploads, closeAll, err := taskform.OpenAttachments(msg.Paths)
		if err != nil {
			return taskCreatedMsg{err: err}
		}
		defer closeAll()

		in := msg.Input
		in.Files = uploads
		id, err := svc.CreateTask(context.Background(), p, in)
		return taskCreatedMsg{id: id, err: err}
	}
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(raw command.CommandMsg) tea.Cmd {
	c, err := command.Parse(raw)
	if err != nil {
		return flash(err.Error())
	}

	switch c.Name {
	case command.CmdRefresh:
		m.watcher.Trigger()
		return m.taskList.LoadTasks()

	case command.CmdQuit:
		return m.quit()

	case command.CmdToken:
		return flash(fmt.Sprintf("%s <%s> signed in as %s", m.principal.Name, m.principal.Email, m.principal.Role))

	case command.CmdRead:
		taskID := m.chat.TaskID()
		if taskID == "" {
			return flash("open a task first")
		}
		svc, p := m.svc, m.principal
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			n, err := svc.MarkRead(ctx, p, taskID)
			if err != nil {
				return flashMsg("marking read: " + err.Error())
			}
			return flashMsg(fmt.Sprintf("%d message(s) marked read", n))
		}

	case command.CmdStatus, command.CmdForce:
		taskID := m.chat.TaskID()
		if taskID == "" {
			return flash("open a task first")
		}
		svc, p, to, force := m.svc, m.principal, c.Status, c.Name == command.CmdForce
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if force {
				task, err := svc.ForceStatus(ctx, p, taskID, to, lifecycle.StatusPatch{})
				return chat.ActionResultMsg{TaskID: taskID, Action: "forcing status", Task: task, Err: err}
			}
			task, err := svc.UpdateStatus(ctx, p, taskID, to, lifecycle.StatusPatch{})
			return chat.ActionResultMsg{TaskID: taskID, Action: "changing status", Task: task, Err: err}
		}
	}
	return nil
}

func flash(text string) tea.Cmd {
	return func() tea.Msg { return flashMsg(text) }
}
