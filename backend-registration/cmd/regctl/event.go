package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/dto"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/service"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/spf13/cobra"
)

// cliActor is the identity regctl acts as. Operators run it with store
// credentials, so it has admin rights.
var cliActor = domain.Actor{UserID: "regctl", Role: domain.RoleAdmin}

func newEventCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage event snapshots",
	}
	cmd.AddCommand(newEventCreateCmd(opts))
	cmd.AddCommand(newEventGetCmd(opts))
	cmd.AddCommand(newEventDeleteCmd(opts))
	return cmd
}

func eventService(b *backend) service.EventService {
	return service.NewEventService(b.store.Events, b.store.Registrations, b.locker, nil)
}

func newEventCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		id, title, organizer string
		start, end           string
		maxParticipants      int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startAt, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			endAt, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			req := &dto.CreateEventRequest{
				ID:            id,
				Title:         title,
				OrganizerID:   organizer,
				StartDateTime: startAt,
				EndDateTime:   endAt,
			}
			// Zero means uncapped.
			if maxParticipants != 0 {
				req.MaxParticipants = &maxParticipants
			}

			return opts.run(cmd, func(ctx context.Context, _ *config.Config, b *backend) error {
				resp, err := eventService(b).CreateEvent(ctx, cliActor, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "event ID (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&organizer, "organizer", "", "organizer user ID")
	cmd.Flags().StringVar(&start, "start", "", "start time, RFC3339")
	cmd.Flags().StringVar(&end, "end", "", "end time, RFC3339")
	cmd.Flags().IntVar(&maxParticipants, "max", 0, "participant cap (0 for uncapped)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("organizer")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newEventGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get EVENT_ID",
		Short: "Show an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *config.Config, b *backend) error {
				resp, err := eventService(b).GetEvent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
}

func newEventDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete EVENT_ID",
		Short: "Delete an event and all of its registrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *config.Config, b *backend) error {
				resp, err := eventService(b).DeleteEvent(ctx, cliActor, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
