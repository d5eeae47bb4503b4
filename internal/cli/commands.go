package cli

import (
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hackgods/office-parking-reservations/internal/booking"
)

func newSlotsCmd(s *session) *cobra.Command {
	var (
		date   string
		preset string
	)

	cmd := &cobra.Command{
		Use:     "slots",
		Aliases: []string{"availability"},
		Short:   "Show which slots are free",
		Long: `Show every slot of the zone and whether it is free for a time range.

Examples:
  parkctl slots                                # today, whole day window
  parkctl slots --date 2025-11-20 --range "09:00 - 17:00"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := s.date(date)
			if err != nil {
				return err
			}
			var rng *booking.TimeRange
			if preset != "" {
				r, err := booking.ParsePreset(d, preset, s.loc)
				if err != nil {
					return err
				}
				rng = &r
			}

			av, err := s.client.Availability(cmd.Context(), s.opts.zone, d, rng)
			if err != nil {
				return errors.Wrap(err, "failed to load availability")
			}

			s.printf("%s on %s, %s\n", av.Zone, av.Date, av.Range)
			if av.Stale {
				s.printf("(slot list may be out of date)\n")
			}
			w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			for _, slot := range av.Slots {
				status := "free"
				if !slot.Available {
					status = "taken"
				}
				booked := make([]string, 0, len(slot.Booked))
				for _, b := range slot.Booked {
					booked = append(booked, b.In(s.loc).String())
				}
				_, _ = w.Write([]byte(slot.ID + "\t" + status + "\t" + strings.Join(booked, ", ") + "\n"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&preset, "range", "", `time range such as "09:00 - 17:00"`)
	return cmd
}

func newBookCmd(s *session) *cobra.Command {
	var (
		slotID  string
		random  bool
		date    string
		preset  string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a parking slot",
		Long: `Book a specific slot, or let the API pick any free one.

Examples:
  parkctl book --slot P05 --date 2025-11-20 --range "09:00 - 17:00"
  parkctl book --random --date 2025-11-20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireEmail(); err != nil {
				return err
			}
			if (slotID == "") == !random {
				return errors.New("give exactly one of --slot or --random")
			}
			d, err := s.date(date)
			if err != nil {
				return err
			}
			rng, err := booking.ParsePreset(d, preset, s.loc)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var b *booking.Booking
			if random {
				b, err = s.client.ReserveRandom(ctx, booking.AnyRequest{
					Zone:      s.opts.zone,
					Date:      d,
					Range:     rng,
					UserEmail: s.opts.email,
					Username:  s.opts.name,
					Comment:   comment,
				})
			} else {
				b, err = s.client.CreateBooking(ctx, booking.ReserveRequest{
					SlotID:    slotID,
					Date:      d,
					Range:     rng,
					UserEmail: s.opts.email,
					Username:  s.opts.name,
					Comment:   comment,
				})
			}
			if err != nil {
				var conflict *booking.ConflictError
				if errors.As(err, &conflict) && conflict.Conflicting.Valid() {
					return errors.Newf("slot %s is already booked %s on %s", conflict.SlotID, conflict.Conflicting.In(s.loc), conflict.Date)
				}
				return err
			}

			s.printf("Booked %s on %s %s (booking %s)\n", b.SlotID, b.Date, b.Range.In(s.loc), b.ID)
			if err := s.cache.RecordCreated(ctx, *b); err != nil {
				s.printf("warning: local cache not updated, run \"parkctl sync\": %v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&slotID, "slot", "", "slot to book, e.g. P05")
	cmd.Flags().BoolVar(&random, "random", false, "book any free slot")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&preset, "range", booking.PresetRanges[0], "time range")
	cmd.Flags().StringVar(&comment, "comment", "", "note for the booking")
	return cmd
}

func newCancelCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel one of your bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			if err := s.client.SubmitCancellation(ctx, booking.Booking{ID: id}); err != nil {
				return err
			}
			s.printf("Cancelled booking %s\n", id)

			if s.opts.email != "" {
				if err := s.cache.RecordCancelled(ctx, s.opts.email, id); err != nil {
					s.printf("warning: local cache not updated, run \"parkctl sync\": %v\n", err)
				}
			}
			return nil
		},
	}
}

func newMineCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "mine",
		Aliases: []string{"ls"},
		Short:   "List your bookings from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireEmail(); err != nil {
				return err
			}
			ctx := cmd.Context()

			list, found, err := s.cache.Bookings(ctx, s.opts.email)
			if err != nil || !found {
				list, err = s.cache.Reconcile(ctx, s.opts.email)
				if list == nil {
					return err
				}
				if err != nil {
					s.printf("warning: local cache not updated, run \"parkctl sync\": %v\n", err)
				}
			}
			s.printBookings(list)
			return nil
		},
	}
}

func newSyncCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the local cache from the booking API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireEmail(); err != nil {
				return err
			}
			list, err := s.cache.Reconcile(cmd.Context(), s.opts.email)
			if list == nil {
				return err
			}
			if err != nil {
				s.printf("warning: local cache not updated: %v\n", err)
			}
			s.printf("%d confirmed bookings\n", len(list))
			return nil
		},
	}
}

func newPresetsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the time ranges offered by the picker",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range booking.PresetRanges {
				s.printf("%s\n", p)
			}
			return nil
		},
	}
}

func (s *session) printBookings(list []booking.Booking) {
	if len(list) == 0 {
		s.printf("No bookings.\n")
		return
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, b := range list {
		if b.State != booking.StateConfirmed {
			continue
		}
		_, _ = w.Write([]byte(b.Date.String() + "\t" + b.SlotID + "\t" + b.Range.In(s.loc).String() + "\t" + b.ID + "\n"))
	}
	_ = w.Flush()
}
