// admin.go - administrative view-count tools (HTTP and command line)
package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Zachkp/about-me/internal/views"
)

// handleForceIncrement bumps the total without deduplication.
func (s *server) handleForceIncrement(c *gin.Context) {
	counts, err := s.tracker.ForceIncrement(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to increment view count")
		return
	}

	log.WithField("views", counts.TotalViews).Info("view count incremented by admin request")
	c.JSON(http.StatusOK, gin.H{
		"views":          counts.TotalViews,
		"uniqueVisitors": counts.UniqueVisitors,
		"success":        true,
		"message":        "View count incremented",
	})
}

func newViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Inspect or adjust the view ledger",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Print the current view counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTracker(cmd, func(t *views.Tracker) error {
					c, err := t.Snapshot(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "views: %d\nunique visitors: %d\n", c.TotalViews, c.UniqueVisitors)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "bump",
			Short: "Increment the view count by one, bypassing deduplication",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTracker(cmd, func(t *views.Tracker) error {
					c, err := t.ForceIncrement(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "views: %d\n", c.TotalViews)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the ledger as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, backend, err := setup(cmd.Context())
				if err != nil {
					return err
				}
				defer backend.Close()

				l, err := backend.Load(cmd.Context())
				if err != nil {
					return err
				}
				data, err := views.EncodeLedger(l)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
	)
	return cmd
}

func withTracker(cmd *cobra.Command, fn func(t *views.Tracker) error) error {
	_, backend, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer backend.Close()

	return fn(views.NewTracker(backend))
}
