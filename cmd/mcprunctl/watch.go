package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/honganh1206/mcprun/eventlog"
	"github.com/honganh1206/mcprun/registry"
)

var watchReplay bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect every configured server and render lifecycle events live",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := withShutdownSignal(cmd.Context())
		defer cancel()

		f := newFacade()
		defer f.Shutdown()

		sess := newSession(ctx, f, configs)
		defer sess.Close()

		events, unsub := f.Subscribe()
		defer unsub()

		var ring *eventlog.Ring
		if watchReplay {
			ring, err = eventlog.NewRing(200)
			if err != nil {
				return err
			}
			defer ring.Close()
		}

		app := tview.NewApplication()
		view := tview.NewTextView().SetDynamicColors(true).SetChangedFunc(func() { app.Draw() })
		view.SetTitle(" mcprun events (ctrl-c to quit) ").SetBorder(true)

		if ring != nil {
			recent, err := ring.Recent()
			if err == nil {
				for _, evt := range recent {
					fmt.Fprintln(view, formatEvent(evt))
				}
			}
		}

		go func() {
			for evt := range events {
				if ring != nil {
					_ = ring.Push(evt)
				}
				line := formatEvent(evt)
				app.QueueUpdateDraw(func() {
					fmt.Fprintln(view, line)
				})
			}
		}()

		go func() {
			<-ctx.Done()
			app.Stop()
		}()

		view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Key() == tcell.KeyCtrlC {
				app.Stop()
				return nil
			}
			return event
		})

		return app.SetRoot(view, true).SetFocus(view).Run()
	},
}

func formatEvent(evt registry.ConnectionEvent) string {
	color := "white"
	switch evt.Type {
	case registry.EventServerConnected:
		color = "green"
	case registry.EventServerDisconnected:
		color = "yellow"
	case registry.EventProcessError:
		color = "red"
	}
	reason := evt.Reason
	if reason == "" {
		reason = "-"
	}
	return fmt.Sprintf("[%s::]%s[-] server=%s status=%s reason=%s", color, evt.Type, evt.ServerID, evt.Status, reason)
}

func init() {
	watchCmd.Flags().BoolVar(&watchReplay, "replay", false, "Record events in an in-memory ring buffer and paint its contents when the view opens (the buffer starts empty in each run)")
}
