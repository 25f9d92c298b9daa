package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the browser for a case and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, ports *Ports, caseID, imageID string) (err error) {
	app, err := NewApp(ctx, ports, caseID, imageID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tui panic: %v", r)
		}
	}()

	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
