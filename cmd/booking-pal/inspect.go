package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Lilanga/booking-pal/internal/database"
	"github.com/Lilanga/booking-pal/internal/export"
	"github.com/Lilanga/booking-pal/internal/google"
	"github.com/Lilanga/booking-pal/internal/logging"
	"github.com/Lilanga/booking-pal/internal/models"
	"github.com/Lilanga/booking-pal/internal/queue"

	"github.com/spf13/cobra"
)

type localStatus struct {
	Room         string                 `json:"room,omitempty"`
	Connection   models.ConnectionState `json:"connection"`
	QueueLength  int                    `json:"queue_length"`
	CachedEvents int                    `json:"cached_events"`
	LastSync     *time.Time             `json:"last_sync,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted kiosk state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			st := localStatus{Room: a.cfg.Calendar.Title}
			if st.QueueLength, err = a.readQueue(db).Len(ctx); err != nil {
				return err
			}
			if conn, ok, err := db.LoadConnectionState(ctx); err != nil {
				return err
			} else if ok {
				st.Connection = conn
			}
			set, err := db.LoadEvents(ctx)
			if err != nil {
				return err
			}
			st.CachedEvents = len(set.Events)
			if !set.Timestamp.IsZero() {
				st.LastSync = &set.Timestamp
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newQueueCmd(a *app) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline action queue",
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending offline actions in replay order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := a.readQueue(db).List(cmd.Context())
			if err != nil {
				return err
			}
			if items == nil {
				items = []models.QueueItem{}
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	})
	return queueCmd
}

func newExportCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the cached schedule to an Excel file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			set, err := db.LoadEvents(cmd.Context())
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Exports.Path
			}
			path, err := export.Save(dir, set, a.cfg.Calendar.Title, a.cfg.Calendar.Location(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (defaults to exports.path)")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify calendar credentials and access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, err := google.ServiceAccountEmail(a.cfg.Calendar.CredentialsFile)
			if err != nil {
				return fmt.Errorf("read credentials: %w", err)
			}
			calendarAPI, err := google.NewCalendarService(cmd.Context(), a.cfg.Calendar.CredentialsFile, a.cfg.Calendar.ID)
			if err != nil {
				return err
			}
			title, err := calendarAPI.TestConnection(cmd.Context())
			if err != nil {
				return fmt.Errorf("calendar %s is not reachable as %s: %w", a.cfg.Calendar.ID, email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calendar %q reachable as %s\n", title, email)
			return nil
		},
	}
}

// readQueue opens the queue without a bus or Redis; it is only read from.
func (a *app) readQueue(db *database.DB) *queue.Queue {
	return queue.New(db, nil, nil, a.cfg.Queue, logging.Component(a.logger, "queue"))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
